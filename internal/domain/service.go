package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/studylog/internal/observability"
	"example.com/studylog/internal/progress"
)

// Service orchestrates study log workflows.
type Service struct {
	store      Store
	catalog    *progress.Catalog
	now        func() time.Time
	defaultLoc *time.Location
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultLocation sets the zone used when neither the request nor the profile names one.
func WithDefaultLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.defaultLoc = loc
		}
	}
}

// NewService constructs a Service. A nil catalog falls back to the built-in activities.
func NewService(store Store, catalog *progress.Catalog, opts ...Option) *Service {
	if catalog == nil {
		catalog = progress.DefaultCatalog()
	}
	s := &Service{
		store:      store,
		catalog:    catalog,
		now:        time.Now,
		defaultLoc: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog exposes the activity catalog in display order.
func (s *Service) Catalog() *progress.Catalog {
	return s.catalog
}

// LogSessionInput captures the payload from the API layer.
type LogSessionInput struct {
	UserID          string
	LanguageID      string
	ActivityID      string
	DurationSeconds int64
	// ActivityDate defaults to today in the learner's zone when empty.
	ActivityDate   string
	Notes          string
	IdempotencyKey string
}

// LogSession handles idempotent create semantics. The boolean reports a replay.
func (s *Service) LogSession(ctx context.Context, input LogSessionInput) (*StudySession, bool, error) {
	if input.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotency(ctx, input.UserID, input.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	if err := s.validateActivity(input.ActivityID, input.DurationSeconds); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	profile, err := s.ensureProfile(ctx, input.UserID, now)
	if err != nil {
		return nil, false, err
	}

	day := input.ActivityDate
	if day == "" {
		day = progress.DayKey(now, s.profileLocation(profile))
	} else if day, err = progress.ParseDay(day); err != nil {
		return nil, false, ErrInvalidDate
	}

	session := StudySession{
		ID:              uuid.NewString(),
		UserID:          input.UserID,
		LanguageID:      input.LanguageID,
		ActivityID:      input.ActivityID,
		DurationSeconds: input.DurationSeconds,
		ActivityDate:    day,
		Notes:           input.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Create(ctx, session, input.IdempotencyKey); err != nil {
		if errors.Is(err, ErrIdempotentReplay) && input.IdempotencyKey != "" {
			existing, findErr := s.store.FindByIdempotency(ctx, input.UserID, input.IdempotencyKey)
			if findErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}
	return &session, false, nil
}

// GetSession fetches by ID.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*StudySession, error) {
	session, err := s.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions fetches sessions newest first with cursor pagination.
func (s *Service) ListSessions(ctx context.Context, userID string, filter SessionFilter, cursor *Cursor, limit int) ([]StudySession, *Cursor, error) {
	return s.store.ListByUser(ctx, userID, filter, cursor, limit)
}

// UpdateSessionInput carries a partial update; nil fields are left unchanged.
type UpdateSessionInput struct {
	UserID          string
	SessionID       string
	LanguageID      *string
	ActivityID      *string
	DurationSeconds *int64
	ActivityDate    *string
	Notes           *string
}

// UpdateSession applies a partial update to an existing session.
func (s *Service) UpdateSession(ctx context.Context, input UpdateSessionInput) (*StudySession, error) {
	session, err := s.GetSession(ctx, input.UserID, input.SessionID)
	if err != nil {
		return nil, err
	}

	if input.LanguageID != nil {
		session.LanguageID = *input.LanguageID
	}
	if input.ActivityID != nil {
		session.ActivityID = *input.ActivityID
	}
	if input.DurationSeconds != nil {
		session.DurationSeconds = *input.DurationSeconds
	}
	if input.ActivityDate != nil {
		day, err := progress.ParseDay(*input.ActivityDate)
		if err != nil {
			return nil, ErrInvalidDate
		}
		session.ActivityDate = day
	}
	if input.Notes != nil {
		session.Notes = *input.Notes
	}
	if err := s.validateActivity(session.ActivityID, session.DurationSeconds); err != nil {
		return nil, err
	}

	session.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, *session); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session and returns what was deleted.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) (*StudySession, error) {
	deleted, err := s.store.Delete(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		return nil, ErrSessionNotFound
	}
	return deleted, nil
}

// ReportQuery selects the entries and zone for a progress report.
type ReportQuery struct {
	UserID     string
	LanguageID string
	// TimeZone overrides the profile zone when set.
	TimeZone string
}

// Report composes the full progress report for a learner.
func (s *Service) Report(ctx context.Context, query ReportQuery) (progress.Report, error) {
	start := time.Now()
	now := s.now()

	profile, err := s.ensureProfile(ctx, query.UserID, now.UTC())
	if err != nil {
		return progress.Report{}, err
	}
	loc, err := s.resolveLocation(profile, query.TimeZone)
	if err != nil {
		return progress.Report{}, err
	}
	entries, err := s.store.Entries(ctx, query.UserID)
	if err != nil {
		return progress.Report{}, err
	}

	report := progress.BuildReport(progress.ReportInput{
		Entries:          entries,
		Catalog:          s.catalog,
		LanguageID:       query.LanguageID,
		AccountCreatedAt: profile.CreatedAt,
		Today:            now.In(loc),
		Location:         loc,
	})
	observability.ObserveReportBuild(time.Since(start))
	return report, nil
}

// GetProfile returns the learner's profile, provisioning it on first use.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return s.ensureProfile(ctx, userID, s.now().UTC())
}

// UpdateTimeZone stores the learner's IANA time zone.
func (s *Service) UpdateTimeZone(ctx context.Context, userID, timeZone string) (*Profile, error) {
	loc, err := loadLocation(timeZone)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	profile, err := s.ensureProfile(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	profile.TimeZone = loc.String()
	profile.UpdatedAt = now
	if err := s.store.UpsertProfile(ctx, *profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Service) validateActivity(activityID string, durationSeconds int64) error {
	if durationSeconds < 0 {
		return ErrInvalidDuration
	}
	if !s.catalog.Contains(activityID) {
		return ErrUnknownActivity
	}
	return nil
}

func (s *Service) ensureProfile(ctx context.Context, userID string, now time.Time) (*Profile, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}
	profile = &Profile{
		UserID:    userID,
		TimeZone:  s.defaultLoc.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertProfile(ctx, *profile); err != nil {
		return nil, err
	}
	// Re-read so a concurrent first request sees the same signup time.
	stored, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}
	return profile, nil
}

// resolveLocation picks the request override, then the profile zone, then the service default.
func (s *Service) resolveLocation(profile *Profile, override string) (*time.Location, error) {
	if strings.TrimSpace(override) != "" {
		return loadLocation(override)
	}
	return s.profileLocation(profile), nil
}

func (s *Service) profileLocation(profile *Profile) *time.Location {
	if profile != nil && profile.TimeZone != "" {
		if loc, err := time.LoadLocation(profile.TimeZone); err == nil {
			return loc
		}
	}
	return s.defaultLoc
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ErrInvalidTimeZone
	}
	return loc, nil
}
