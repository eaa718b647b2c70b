package api

import (
	"net/http"
	"time"

	"example.com/studylog/internal/auth"
	"example.com/studylog/internal/domain"
)

type profileRequest struct {
	TimeZone string `json:"time_zone" validate:"required,timezone"`
}

type profileResponse struct {
	UserID    string    `json:"user_id"`
	TimeZone  string    `json:"time_zone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type languageRequest struct {
	Code string `json:"code" validate:"required,bcp47_language_tag"`
	Name string `json:"name" validate:"required,max=64"`
}

type languageResponse struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type goalRequest struct {
	LanguageID   string `json:"language_id" validate:"omitempty,max=64"`
	DailyMinutes int    `json:"daily_minutes" validate:"min=1,max=1440"`
}

type goalResponse struct {
	LanguageID     string    `json:"language_id,omitempty"`
	DailyMinutes   int       `json:"daily_minutes"`
	UpdatedAt      time.Time `json:"updated_at"`
	Day            string    `json:"day,omitempty"`
	StudiedSeconds int64     `json:"studied_seconds"`
	Percent        float64   `json:"percent"`
	Met            bool      `json:"met"`
}

type followeeResponse struct {
	UserID        string    `json:"user_id"`
	FollowedAt    time.Time `json:"followed_at"`
	CurrentStreak int       `json:"current_streak"`
	TimeZone      string    `json:"time_zone"`
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
		if !ok {
			return
		}
		profile, err := h.service.GetProfile(r.Context(), claims.Subject)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileResponse(*profile))
	case http.MethodPut:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
		if !ok {
			return
		}
		var req profileRequest
		if !h.decode(w, r, &req) {
			return
		}
		profile, err := h.service.UpdateTimeZone(r.Context(), claims.Subject, req.TimeZone)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toProfileResponse(*profile))
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

func (h *Handler) languages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
		if !ok {
			return
		}
		languages, err := h.service.ListLanguages(r.Context(), claims.Subject)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		items := make([]languageResponse, 0, len(languages))
		for _, l := range languages {
			items = append(items, toLanguageResponse(l))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	case http.MethodPost:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
		if !ok {
			return
		}
		var req languageRequest
		if !h.decode(w, r, &req) {
			return
		}
		language, err := h.service.AddLanguage(r.Context(), claims.Subject, req.Code, req.Name)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toLanguageResponse(*language))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) goals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
		if !ok {
			return
		}
		tz := r.URL.Query().Get("tz")
		status, err := h.service.GoalProgress(r.Context(), claims.Subject, r.URL.Query().Get("language_id"), tz)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, goalResponse{
			LanguageID:     status.Goal.LanguageID,
			DailyMinutes:   status.Goal.DailyMinutes,
			UpdatedAt:      status.Goal.UpdatedAt,
			Day:            status.Day,
			StudiedSeconds: status.StudiedSeconds,
			Percent:        status.Percent,
			Met:            status.Met,
		})
	case http.MethodPut:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
		if !ok {
			return
		}
		var req goalRequest
		if !h.decode(w, r, &req) {
			return
		}
		goal, err := h.service.SetGoal(r.Context(), claims.Subject, req.LanguageID, req.DailyMinutes)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, goalResponse{
			LanguageID:   goal.LanguageID,
			DailyMinutes: goal.DailyMinutes,
			UpdatedAt:    goal.UpdatedAt,
		})
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

func (h *Handler) follows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
	if !ok {
		return
	}
	followees, err := h.service.Following(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	items := make([]followeeResponse, 0, len(followees))
	for _, f := range followees {
		items = append(items, followeeResponse{
			UserID:        f.UserID,
			FollowedAt:    f.FollowedAt,
			CurrentStreak: f.CurrentStreak,
			TimeZone:      f.TimeZone,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) followByID(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case http.MethodPut:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
		if !ok {
			return
		}
		err = h.service.Follow(r.Context(), claims.Subject, r.PathValue("user_id"))
	case http.MethodDelete:
		claims, ok := h.authorize(w, r, auth.ScopeSessionsWrite)
		if !ok {
			return
		}
		err = h.service.Unfollow(r.Context(), claims.Subject, r.PathValue("user_id"))
	default:
		methodNotAllowed(w, "PUT, DELETE")
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toProfileResponse(p domain.Profile) profileResponse {
	return profileResponse{
		UserID:    p.UserID,
		TimeZone:  p.TimeZone,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toLanguageResponse(l domain.Language) languageResponse {
	return languageResponse{
		ID:        l.ID,
		Code:      l.Code,
		Name:      l.Name,
		CreatedAt: l.CreatedAt,
	}
}
