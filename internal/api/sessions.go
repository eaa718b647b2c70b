package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/studylog/internal/auth"
	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/persistence"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type createSessionRequest struct {
	LanguageID      string `json:"language_id" validate:"omitempty,max=64"`
	ActivityID      string `json:"activity_id" validate:"required,max=64"`
	DurationSeconds int64  `json:"duration_seconds" validate:"min=1,max=86400"`
	ActivityDate    string `json:"activity_date" validate:"omitempty,isodate"`
	Notes           string `json:"notes" validate:"max=2000"`
}

type updateSessionRequest struct {
	LanguageID      *string `json:"language_id" validate:"omitnil,max=64"`
	ActivityID      *string `json:"activity_id" validate:"omitnil,min=1,max=64"`
	DurationSeconds *int64  `json:"duration_seconds" validate:"omitnil,min=1,max=86400"`
	ActivityDate    *string `json:"activity_date" validate:"omitnil,isodate"`
	Notes           *string `json:"notes" validate:"omitnil,max=2000"`
}

type sessionResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	LanguageID      string    `json:"language_id,omitempty"`
	ActivityID      string    `json:"activity_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	ActivityDate    string    `json:"activity_date"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type listSessionsResponse struct {
	Items      []sessionResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSession(w, r)
	case http.MethodGet:
		h.listSessions(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) sessionByID(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSession(w, r)
	case http.MethodPatch:
		h.updateSession(w, r)
	case http.MethodDelete:
		h.deleteSession(w, r)
	default:
		methodNotAllowed(w, "GET, PATCH, DELETE")
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, replay, err := h.service.LogSession(r.Context(), domain.LogSessionInput{
		UserID:          claims.Subject,
		LanguageID:      req.LanguageID,
		ActivityID:      req.ActivityID,
		DurationSeconds: req.DurationSeconds,
		ActivityDate:    req.ActivityDate,
		Notes:           req.Notes,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	} else {
		w.Header().Set("Location", "/v1/sessions/"+session.ID)
	}
	writeJSON(w, status, toSessionResponse(*session))
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := defaultPageSize
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPageSize {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	var cursor *domain.Cursor
	if token := query.Get("cursor"); token != "" {
		decoded, err := persistence.DecodeCursor(token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
			return
		}
		cursor = decoded
	}

	filter := domain.SessionFilter{LanguageID: query.Get("language_id")}
	items, next, err := h.service.ListSessions(r.Context(), claims.Subject, filter, cursor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := listSessionsResponse{Items: make([]sessionResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, toSessionResponse(item))
	}
	if next != nil {
		resp.NextCursor = persistence.EncodeCursor(next)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
	if !ok {
		return
	}
	session, err := h.service.GetSession(r.Context(), claims.Subject, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(*session))
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	var req updateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.service.UpdateSession(r.Context(), domain.UpdateSessionInput{
		UserID:          claims.Subject,
		SessionID:       r.PathValue("id"),
		LanguageID:      req.LanguageID,
		ActivityID:      req.ActivityID,
		DurationSeconds: req.DurationSeconds,
		ActivityDate:    req.ActivityDate,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(*session))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}
	if _, err := h.service.DeleteSession(r.Context(), claims.Subject, r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if _, ok := h.authorize(w, r, auth.ScopeSessionsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activities": h.service.Catalog().Activities(),
	})
}

func toSessionResponse(session domain.StudySession) sessionResponse {
	return sessionResponse{
		ID:              session.ID,
		UserID:          session.UserID,
		LanguageID:      session.LanguageID,
		ActivityID:      session.ActivityID,
		DurationSeconds: session.DurationSeconds,
		ActivityDate:    session.ActivityDate,
		Notes:           session.Notes,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}
}
