// Package domain defines the business logic for the study log.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"example.com/studylog/internal/events"
	"example.com/studylog/internal/progress"
)

var (
	// ErrIdempotentReplay indicates an existing session was found for the provided idempotency key.
	ErrIdempotentReplay = errors.New("study session already exists for idempotency key")
	// ErrSessionNotFound is returned when a study session cannot be located for the caller.
	ErrSessionNotFound = errors.New("study session not found")
	// ErrUnknownActivity is returned when the activity id is not part of the catalog.
	ErrUnknownActivity = errors.New("unknown activity")
	// ErrInvalidDuration is returned for negative durations.
	ErrInvalidDuration = errors.New("duration must not be negative")
	// ErrInvalidDate is returned when an activity date is not a YYYY-MM-DD calendar day.
	ErrInvalidDate = errors.New("activity date must be YYYY-MM-DD")
	// ErrInvalidTimeZone is returned when a time zone name cannot be loaded.
	ErrInvalidTimeZone = errors.New("unknown time zone")
	// ErrSelfFollow is returned when a learner tries to follow themselves.
	ErrSelfFollow = errors.New("cannot follow yourself")
	// ErrInvalidGoal is returned for non-positive daily goals.
	ErrInvalidGoal = errors.New("daily goal must be positive")
	// ErrLanguageExists is returned when the learner already tracks the language code.
	ErrLanguageExists = errors.New("language already tracked")
)

// StudySession is one logged block of study time.
type StudySession struct {
	ID              string
	UserID          string
	LanguageID      string
	ActivityID      string
	DurationSeconds int64
	// ActivityDate is the learner's calendar day (YYYY-MM-DD).
	ActivityDate string
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Entry projects the session into the shape the aggregators consume.
func (s StudySession) Entry() progress.Entry {
	return progress.Entry{
		UserID:          s.UserID,
		LanguageID:      s.LanguageID,
		ActivityID:      s.ActivityID,
		DurationSeconds: s.DurationSeconds,
		ActivityDate:    s.ActivityDate,
		CreatedAt:       s.CreatedAt,
	}
}

// ChangeEvent builds the change-feed payload for eventType.
func (s StudySession) ChangeEvent(eventType string, at time.Time) events.StudySessionChanged {
	return events.StudySessionChanged{
		SessionID:       s.ID,
		UserID:          s.UserID,
		LanguageID:      s.LanguageID,
		ActivityID:      s.ActivityID,
		DurationSeconds: s.DurationSeconds,
		ActivityDate:    s.ActivityDate,
		Operation:       strings.TrimPrefix(eventType, "study_session."),
		OccurredAt:      at.UTC(),
	}
}

// Profile holds per-learner settings. CreatedAt anchors week 1 of the weekly chart.
type Profile struct {
	UserID    string
	TimeZone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Language is a language the learner tracks.
type Language struct {
	ID        string
	UserID    string
	Code      string
	Name      string
	CreatedAt time.Time
}

// Goal is a daily study target. An empty LanguageID applies across all languages.
type Goal struct {
	UserID       string
	LanguageID   string
	DailyMinutes int
	UpdatedAt    time.Time
}

// Follow links a follower to a learner whose streak they want to see.
type Follow struct {
	FollowerID string
	FolloweeID string
	CreatedAt  time.Time
}

// Cursor models the pagination token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	LanguageID string
}

// SessionRepository captures study session persistence. Mutations record change events in the
// same unit of work.
type SessionRepository interface {
	FindByIdempotency(ctx context.Context, userID, idempotencyKey string) (*StudySession, error)
	Create(ctx context.Context, session StudySession, idempotencyKey string) error
	Get(ctx context.Context, userID, sessionID string) (*StudySession, error)
	Update(ctx context.Context, session StudySession) error
	Delete(ctx context.Context, userID, sessionID string) (*StudySession, error)
	ListByUser(ctx context.Context, userID string, filter SessionFilter, cursor *Cursor, limit int) ([]StudySession, *Cursor, error)
	Entries(ctx context.Context, userID string) ([]progress.Entry, error)
	ActivityDays(ctx context.Context, viewerID, userID string) ([]string, error)
}

// ProfileRepository stores learner profiles.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, profile Profile) error
}

// LanguageRepository stores tracked languages.
type LanguageRepository interface {
	ListLanguages(ctx context.Context, userID string) ([]Language, error)
	AddLanguage(ctx context.Context, language Language) error
}

// GoalRepository stores daily goals.
type GoalRepository interface {
	GetGoal(ctx context.Context, userID, languageID string) (*Goal, error)
	PutGoal(ctx context.Context, goal Goal) error
}

// FollowRepository stores the follow graph.
type FollowRepository interface {
	Follow(ctx context.Context, follow Follow) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
	ListFollowees(ctx context.Context, followerID string) ([]Follow, error)
}

// Store bundles every repository the service needs.
type Store interface {
	SessionRepository
	ProfileRepository
	LanguageRepository
	GoalRepository
	FollowRepository
}
