// Package events defines the change-feed payloads published for study sessions.
package events

import "time"

// Event types carried in the event_type header.
const (
	StudySessionLogged  = "study_session.logged"
	StudySessionUpdated = "study_session.updated"
	StudySessionDeleted = "study_session.deleted"
)

// StudySessionChanged is emitted whenever a study session row is inserted, updated or deleted.
type StudySessionChanged struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	LanguageID      string    `json:"language_id,omitempty"`
	ActivityID      string    `json:"activity_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	ActivityDate    string    `json:"activity_date"`
	Operation       string    `json:"operation"`
	OccurredAt      time.Time `json:"occurred_at"`
}
