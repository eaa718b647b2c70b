package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/studylog/internal/auth"
	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/progress"
	"example.com/studylog/internal/realtime"
)

func (h *Handler) reportQuery(w http.ResponseWriter, r *http.Request, userID string) (domain.ReportQuery, bool) {
	query := domain.ReportQuery{
		UserID:     userID,
		LanguageID: r.URL.Query().Get("language_id"),
		TimeZone:   r.URL.Query().Get("tz"),
	}
	if query.TimeZone != "" {
		if _, err := time.LoadLocation(query.TimeZone); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", domain.ErrInvalidTimeZone.Error())
			return query, false
		}
	}
	return query, true
}

func (h *Handler) reportSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
	if !ok {
		return
	}
	query, ok := h.reportQuery(w, r, claims.Subject)
	if !ok {
		return
	}

	report, err := h.service.Report(r.Context(), query)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// reportStream pushes a fresh report whenever the caller's sessions change. Each change
// restarts the computation, so only the newest report is ever written.
func (h *Handler) reportStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	claims, ok := h.authorize(w, r, auth.ScopeSessionsRead)
	if !ok {
		return
	}
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "live reports are not enabled")
		return
	}
	query, ok := h.reportQuery(w, r, claims.Subject)
	if !ok {
		return
	}

	ctx := r.Context()
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Printf("stream flush: %v", err)
		return
	}

	sub := h.hub.Subscribe(claims.Subject)
	defer sub.Close()

	refresher := realtime.NewRefresher(func(ctx context.Context) (progress.Report, error) {
		return h.service.Report(ctx, query)
	})
	defer refresher.Close()
	refresher.Refresh(ctx)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			refresher.Refresh(ctx)
		case res, ok := <-refresher.Results():
			if !ok {
				return
			}
			if err := h.writeReportEvent(w, res); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeReportEvent(w http.ResponseWriter, res realtime.Result[progress.Report]) error {
	if res.Err != nil {
		if errors.Is(res.Err, context.Canceled) {
			return nil
		}
		h.logger.Printf("stream report: %v", res.Err)
		return writeEvent(w, "error", res.Generation, map[string]string{
			"type":   "server_error",
			"detail": "report unavailable",
		})
	}
	return writeEvent(w, "report", res.Generation, res.Value)
}

func writeEvent(w http.ResponseWriter, event string, id uint64, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	return err
}
