package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

func TestObserve(t *testing.T) {
	m := New()
	assert.Equal(t, float64(100), testutil.ToFloat64(m.score))

	m.Observe(model.Event{Type: model.EventPowerUpdate, Update: &model.PowerUpdate{
		Power:           3600,
		Current:         15.65,
		EfficiencyScore: 81,
		OverloadStatus:  model.OverloadStatus{OverloadWarning: true},
		SessionStats:    model.SessionStats{CurrentDevicesUsed: 3},
	}})
	assert.Equal(t, float64(3600), testutil.ToFloat64(m.power))
	assert.Equal(t, 15.65, testutil.ToFloat64(m.current))
	assert.Equal(t, float64(81), testutil.ToFloat64(m.score))
	assert.Equal(t, fuseWarning, testutil.ToFloat64(m.fuseState))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.activeDevices))

	m.Observe(model.Event{Type: model.EventFuseTripped, Trip: &model.FuseTripped{Tripped: true}})
	m.Observe(model.Event{Type: model.EventPowerUpdate, Update: &model.PowerUpdate{
		OverloadStatus: model.OverloadStatus{FuseTripped: true, CanResetFuse: true},
	}})
	m.Observe(model.Event{Type: model.EventFuseReset, Reset: &model.FuseReset{}})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.fuseTrips))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.fuseResets))
	assert.Equal(t, fuseResettable, testutil.ToFloat64(m.fuseState))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues("powerUpdate")))
}

func TestRejectedAndConnections(t *testing.T) {
	m := New()
	m.Rejected(model.EventDeviceToggleRejected)
	m.Rejected(model.EventDeviceToggleRejected)
	m.Rejected(model.EventFuseResetRejected)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.rejections.WithLabelValues("deviceToggleRejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connections))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Observe(model.Event{Type: model.EventFuseTripped})
		m.Rejected(model.EventFuseResetRejected)
		m.ConnectionOpened()
		m.ConnectionClosed()
	})
}

func TestWrapHandlerAndExposition(t *testing.T) {
	m := New()
	h := m.WrapHandler("/api/house", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/house", nil))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/house", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "house_power_watts")
	assert.Contains(t, string(body), "http_requests_total")
}
