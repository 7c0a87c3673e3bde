package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/anicoll/house-power-simulator/internal/pkg/metrics"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type simulator interface {
	InitialState() model.InitialData
	Refresh() model.PowerUpdate
	ToggleDevice(roomID string, kind model.DeviceKind) (model.PowerUpdate, error)
	ApplyScene(refs []model.DeviceRef) (model.PowerUpdate, error)
	ResetFuse() (model.FuseReset, model.PowerUpdate, error)
	ResetSimulation() model.PowerUpdate
	OverloadReport() model.OverloadReport
	EfficiencyReport(limit int) model.EfficiencyReport
}

type sampleStore interface {
	GetSamples(ctx context.Context, from, to *time.Time) ([]model.HistoryEntry, error)
}

type Option func(*server)

// WithSampleStore serves persisted samples on /api/history.
func WithSampleStore(store sampleStore) Option {
	return func(s *server) {
		s.samples = store
	}
}

func WithAllowedOrigin(origin string) Option {
	return func(s *server) {
		s.allowedOrigin = origin
	}
}

type server struct {
	sim           simulator
	hub           *Hub
	metrics       *metrics.Metrics
	samples       sampleStore
	allowedOrigin string
	logger        *zap.Logger
}

func New(sim simulator, hub *Hub, m *metrics.Metrics, opts ...Option) *server {
	s := &server{
		sim:     sim,
		hub:     hub,
		metrics: m,
		logger:  zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router with CORS, panic recovery, request logging and
// OpenAPI validation applied.
func (s *server) Handler() (http.Handler, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/api/openapi.yaml", serveSpec).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(validator.Middleware)
	api.Handle("/overload-protection", s.metrics.WrapHandler("/api/overload-protection", http.HandlerFunc(s.getOverloadProtection))).Methods(http.MethodGet)
	api.Handle("/efficiency", s.metrics.WrapHandler("/api/efficiency", http.HandlerFunc(s.getEfficiency))).Methods(http.MethodGet)
	api.Handle("/house", s.metrics.WrapHandler("/api/house", http.HandlerFunc(s.getHouse))).Methods(http.MethodGet)
	if s.samples != nil {
		api.Handle("/history", s.metrics.WrapHandler("/api/history", http.HandlerFunc(s.getHistory))).Methods(http.MethodGet)
	}

	r.Use(LoggingMiddleware)
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{s.allowedOrigin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true), handlers.RecoveryLogger(recoveryLogger{}))
	return recovery(cors(r)), nil
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.Len()})
}

func (s *server) getOverloadProtection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.OverloadReport())
}

func (s *server) getEfficiency(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if limit < 1 || limit > maxHistoryLimit {
		handleError(w, http.StatusBadRequest, errInvalidLimit)
		return
	}
	writeJSON(w, http.StatusOK, s.sim.EfficiencyReport(limit))
}

func (s *server) getHouse(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Refresh())
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	if err := runtime.BindQueryParameter("form", true, false, "from", r.URL.Query(), &from); err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", r.URL.Query(), &to); err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	samples, err := s.samples.GetSamples(r.Context(), from, to)
	if err != nil {
		s.logger.Error("failed to read samples", zap.Error(err))
		handleError(w, http.StatusInternalServerError, err)
		return
	}
	if samples == nil {
		samples = []model.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("failed to write response", zap.Error(err))
	}
}

func handleError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
