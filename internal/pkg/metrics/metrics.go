package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

const namespace = "house"

// Fuse state gauge values.
const (
	fuseNormal float64 = iota
	fuseWarning
	fuseTripped
	fuseResettable
)

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	power         prometheus.Gauge
	current       prometheus.Gauge
	score         prometheus.Gauge
	fuseState     prometheus.Gauge
	activeDevices prometheus.Gauge
	connections   prometheus.Gauge

	fuseTrips  prometheus.Counter
	fuseResets prometheus.Counter
	events     *prometheus.CounterVec
	rejections *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_watts",
			Help:      "Total power drawn by active devices.",
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_amps",
			Help:      "Current drawn at the nominal voltage.",
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "efficiency_score",
			Help:      "Latest efficiency score (0-100).",
		}),
		fuseState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fuse_state",
			Help:      "Fuse state gauge (0 normal, 1 warning, 2 tripped, 3 resettable).",
		}),
		activeDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_devices",
			Help:      "Number of devices currently on.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		fuseTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fuse_trips_total",
			Help:      "Total fuse trips.",
		}),
		fuseResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fuse_resets_total",
			Help:      "Total accepted fuse resets.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Simulation events by type.",
		}, []string{"type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_rejections_total",
			Help:      "Rejected client commands by rejection type.",
		}, []string{"type"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.power,
		m.current,
		m.score,
		m.fuseState,
		m.activeDevices,
		m.connections,
		m.fuseTrips,
		m.fuseResets,
		m.events,
		m.rejections,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	m.score.Set(100)

	return m
}

// Observe is a simulation subscriber.
func (m *Metrics) Observe(ev model.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(ev.Type.String()).Inc()
	switch ev.Type {
	case model.EventPowerUpdate:
		if ev.Update != nil {
			m.observeUpdate(*ev.Update)
		}
	case model.EventFuseTripped:
		m.fuseTrips.Inc()
	case model.EventFuseReset:
		m.fuseResets.Inc()
	}
}

func (m *Metrics) observeUpdate(u model.PowerUpdate) {
	m.power.Set(float64(u.Power))
	m.current.Set(u.Current)
	m.score.Set(float64(u.EfficiencyScore))
	m.activeDevices.Set(float64(u.SessionStats.CurrentDevicesUsed))

	status := u.OverloadStatus
	switch {
	case status.FuseTripped && status.CanResetFuse:
		m.fuseState.Set(fuseResettable)
	case status.FuseTripped:
		m.fuseState.Set(fuseTripped)
	case status.OverloadWarning:
		m.fuseState.Set(fuseWarning)
	default:
		m.fuseState.Set(fuseNormal)
	}
}

func (m *Metrics) Rejected(kind model.EventType) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
