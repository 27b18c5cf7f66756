package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/execution-hub/serial-reservation/internal/application/authority"
	appSession "github.com/execution-hub/serial-reservation/internal/application/session"
	"github.com/execution-hub/serial-reservation/internal/application/stock"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/sse"
)

const (
	defaultPingInterval = 15 * time.Second
	requestTimeout      = 30 * time.Second
)

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Authority *authority.Authority
	Tracker   *appSession.Tracker
	Hub       *sse.Hub
	Store     token.AdminStore
	Monitor   *stock.Monitor
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  zerolog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	authority    *authority.Authority
	tracker      *appSession.Tracker
	hub          *sse.Hub
	store        token.AdminStore
	monitor      *stock.Monitor
	metrics      http.Handler
	logger       zerolog.Logger
	pingInterval time.Duration
}

func NewServer(d Deps) *Server {
	return &Server{
		authority:    d.Authority,
		tracker:      d.Tracker,
		hub:          d.Hub,
		store:        d.Store,
		monitor:      d.Monitor,
		metrics:      d.Metrics,
		logger:       d.Logger.With().Str("service", "http").Logger(),
		pingInterval: defaultPingInterval,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		// The stream outlives any request timeout.
		r.Get("/reservations/stream", s.streamEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Route("/reservations", func(r chi.Router) {
				r.Get("/snapshot", s.getSnapshot)
				r.Get("/sessions", s.listSessions)
				r.Post("/sessions/{sessionId}/messages", s.postMessage)
				r.Delete("/sessions/{sessionId}", s.deleteSession)
			})

			r.Route("/serials", func(r chi.Router) {
				r.Post("/import", s.importSerials)
				r.Get("/stats", s.serialStats)
				r.Get("/low-stock", s.lowStock)
			})
		})
	})

	return otelhttp.NewHandler(r, "reservation-api")
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// respondServiceError maps failures of the reservation services to a status.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, token.ErrAuthorityStopped):
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	case errors.Is(err, token.ErrConnectionLost):
		respondError(w, http.StatusServiceUnavailable, string(token.ReasonConnectionLost), err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"sessions":    s.tracker.Count(),
		"subscribers": s.hub.Count(),
	})
}
