package domain

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/studylog/internal/progress"
)

// ErrGoalNotFound is returned when no daily goal has been set.
var ErrGoalNotFound = errors.New("daily goal not set")

// ListLanguages returns the languages the learner tracks.
func (s *Service) ListLanguages(ctx context.Context, userID string) ([]Language, error) {
	return s.store.ListLanguages(ctx, userID)
}

// AddLanguage starts tracking a language. Codes are stored lower-cased.
func (s *Service) AddLanguage(ctx context.Context, userID, code, name string) (*Language, error) {
	language := Language{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      strings.ToLower(strings.TrimSpace(code)),
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AddLanguage(ctx, language); err != nil {
		return nil, err
	}
	return &language, nil
}

// GoalProgress reports today's study time against the daily goal.
type GoalProgress struct {
	Goal           Goal
	Day            string
	StudiedSeconds int64
	// Percent is capped at 100.
	Percent float64
	Met     bool
}

// SetGoal stores the daily target for a language, or for all languages when languageID is empty.
func (s *Service) SetGoal(ctx context.Context, userID, languageID string, dailyMinutes int) (*Goal, error) {
	if dailyMinutes <= 0 {
		return nil, ErrInvalidGoal
	}
	goal := Goal{
		UserID:       userID,
		LanguageID:   languageID,
		DailyMinutes: dailyMinutes,
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.store.PutGoal(ctx, goal); err != nil {
		return nil, err
	}
	return &goal, nil
}

// GoalProgress evaluates the goal for today in the learner's zone.
func (s *Service) GoalProgress(ctx context.Context, userID, languageID, timeZone string) (*GoalProgress, error) {
	goal, err := s.store.GetGoal(ctx, userID, languageID)
	if err != nil {
		return nil, err
	}
	if goal == nil {
		return nil, ErrGoalNotFound
	}

	now := s.now()
	profile, err := s.ensureProfile(ctx, userID, now.UTC())
	if err != nil {
		return nil, err
	}
	loc, err := s.resolveLocation(profile, timeZone)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Entries(ctx, userID)
	if err != nil {
		return nil, err
	}

	day := progress.DayKey(now, loc)
	studied := progress.SecondsOnDay(progress.FilterByLanguage(entries, languageID), day)
	target := float64(goal.DailyMinutes * 60)
	percent := math.Min(100, float64(studied)/target*100)

	return &GoalProgress{
		Goal:           *goal,
		Day:            day,
		StudiedSeconds: studied,
		Percent:        percent,
		Met:            float64(studied) >= target,
	}, nil
}

// FolloweeStreak is a followed learner with their current streak.
type FolloweeStreak struct {
	UserID        string
	FollowedAt    time.Time
	CurrentStreak int
	TimeZone      string
}

// Follow starts following another learner. Following twice is a no-op.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return ErrSelfFollow
	}
	return s.store.Follow(ctx, Follow{
		FollowerID: followerID,
		FolloweeID: followeeID,
		CreatedAt:  s.now().UTC(),
	})
}

// Unfollow stops following a learner.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return s.store.Unfollow(ctx, followerID, followeeID)
}

// Following lists followed learners with streaks evaluated on each followee's own calendar.
func (s *Service) Following(ctx context.Context, followerID string) ([]FolloweeStreak, error) {
	follows, err := s.store.ListFollowees(ctx, followerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]FolloweeStreak, 0, len(follows))
	for _, f := range follows {
		profile, err := s.store.GetProfile(ctx, f.FolloweeID)
		if err != nil {
			return nil, err
		}
		loc := s.profileLocation(profile)
		days, err := s.store.ActivityDays(ctx, followerID, f.FolloweeID)
		if err != nil {
			return nil, err
		}
		out = append(out, FolloweeStreak{
			UserID:        f.FolloweeID,
			FollowedAt:    f.CreatedAt,
			CurrentStreak: progress.StreakFromDays(days, now, loc),
			TimeZone:      loc.String(),
		})
	}
	return out, nil
}
