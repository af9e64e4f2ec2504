package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/service"
	"github.com/scout-progress/internal/websocket"
)

// ReadinessCheck reports whether a backing dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the progression API
type Handler struct {
	service  *service.ProgressService
	hub      *websocket.Hub
	gatherer prometheus.Gatherer
	checks   map[string]ReadinessCheck
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. Metrics are served from gatherer,
// or from the default registry when it is nil.
func NewHandler(svc *service.ProgressService, hub *websocket.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		service:  svc,
		hub:      hub,
		gatherer: gatherer,
		checks:   make(map[string]ReadinessCheck),
		logger:   logger,
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/members", func(r chi.Router) {
			r.Post("/", h.EnrollMember)

			r.Route("/{memberID}", func(r chi.Router) {
				r.Get("/", h.GetProfile)
				r.Post("/session", h.StartSession)
				r.Post("/recharge", h.Recharge)
				r.Post("/points", h.GrantPoints)
				r.Get("/badges", h.GetBadges)
			})
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.Submit)
			r.Post("/{submissionID}/verify", h.VerifySubmission)
		})

		r.Get("/curriculum", h.ListCurriculum)
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{Success: false, Error: err.Error()})
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as an internal error.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrMemberExists), errors.Is(err, domain.ErrConcurrentUpdate):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "operation", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.TotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck probes every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%s unavailable", name))
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// EnrollMember creates a fresh profile
func (h *Handler) EnrollMember(w http.ResponseWriter, r *http.Request) {
	var req domain.EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}

	profile, err := h.service.EnrollMember(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "enroll", err)
		return
	}
	h.writeCreated(w, profile)
}

// GetProfile returns a member's profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Profile(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, "get_profile", err)
		return
	}
	h.writeSuccess(w, profile)
}

// StartSession applies decay and the daily login bonus
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.StartSession(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, "session", err)
		return
	}
	h.writeSuccess(w, out)
}

// Recharge attempts a vitality recharge. A denied recharge is still a 200;
// the outcome carries the reason and retry time.
func (h *Handler) Recharge(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Recharge(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, "recharge", err)
		return
	}
	h.writeSuccess(w, out)
}

// GrantPoints awards or deducts points
func (h *Handler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	var req domain.GrantRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.service.GrantPoints(r.Context(), chi.URLParam(r, "memberID"), req)
	if err != nil {
		h.writeServiceError(w, "grant_points", err)
		return
	}
	h.writeSuccess(w, out)
}

// GetBadges returns the member's category badge summary
func (h *Handler) GetBadges(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Badges(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.writeServiceError(w, "badges", err)
		return
	}
	h.writeSuccess(w, summary)
}

// Submit records a pending curriculum submission
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "submit", err)
		return
	}
	h.writeCreated(w, rec)
}

// VerifySubmission marks a submission verified by a supervisor
func (h *Handler) VerifySubmission(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	rec, err := h.service.VerifySubmission(r.Context(), chi.URLParam(r, "submissionID"), req.VerifierID)
	if err != nil {
		h.writeServiceError(w, "verify", err)
		return
	}
	h.writeSuccess(w, rec)
}

// ListCurriculum returns the curriculum catalog
func (h *Handler) ListCurriculum(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Curriculum(r.Context())
	if err != nil {
		h.writeServiceError(w, "curriculum", err)
		return
	}
	h.writeSuccess(w, items)
}
