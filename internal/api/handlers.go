// Package api exposes HTTP handlers for the study log.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"example.com/studylog/internal/auth"
	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/realtime"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service   *domain.Service
	hub       *realtime.Hub
	validate  *validator.Validate
	heartbeat time.Duration
	logger    *log.Logger
}

// Option configures optional Handler behaviour.
type Option func(*Handler)

// WithHub enables the live report stream.
func WithHub(hub *realtime.Hub) Option {
	return func(h *Handler) {
		h.hub = hub
	}
}

// WithHeartbeat sets the interval between keep-alive comments on the stream.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithLogger overrides the logger used to report server errors.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{
		service:   service,
		validate:  newValidator(),
		heartbeat: 25 * time.Second,
		logger:    log.New(log.Writer(), "[api] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sessions", h.sessions)
	mux.HandleFunc("/v1/sessions/{id}", h.sessionByID)
	mux.HandleFunc("/v1/catalog", h.catalog)
	mux.HandleFunc("/v1/reports/summary", h.reportSummary)
	mux.HandleFunc("/v1/reports/stream", h.reportStream)
	mux.HandleFunc("/v1/profile", h.profile)
	mux.HandleFunc("/v1/languages", h.languages)
	mux.HandleFunc("/v1/goals", h.goals)
	mux.HandleFunc("/v1/follows", h.follows)
	mux.HandleFunc("/v1/follows/{user_id}", h.followByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authorize resolves the caller and checks scope.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if claims.Allows(scope) {
		return claims, true
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
	return nil, false
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", describeValidation(err))
		return false
	}
	return true
}

// writeDomainError maps service errors onto HTTP problems.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrGoalNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrLanguageExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrUnknownActivity),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidTimeZone),
		errors.Is(err, domain.ErrInvalidGoal),
		errors.Is(err, domain.ErrSelfFollow):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Printf("server error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
