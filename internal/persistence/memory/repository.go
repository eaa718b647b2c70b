// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/events"
	"example.com/studylog/internal/observability"
	"example.com/studylog/internal/progress"
)

// ChangeFunc receives change events after a mutation has been applied.
type ChangeFunc func(eventType string, change events.StudySessionChanged)

// Repository keeps every table in maps guarded by one lock. Reads follow the same visibility
// rules as the Postgres row-level policies: a learner sees their own rows plus the activity
// days of learners they follow.
type Repository struct {
	mu          sync.RWMutex
	sessions    map[string]domain.StudySession
	idempotency map[string]string
	profiles    map[string]domain.Profile
	languages   map[string][]domain.Language
	goals       map[string]domain.Goal
	follows     map[string]map[string]domain.Follow
	onChange    ChangeFunc
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		sessions:    make(map[string]domain.StudySession),
		idempotency: make(map[string]string),
		profiles:    make(map[string]domain.Profile),
		languages:   make(map[string][]domain.Language),
		goals:       make(map[string]domain.Goal),
		follows:     make(map[string]map[string]domain.Follow),
	}
}

// OnChange registers fn to observe session mutations, standing in for the outbox.
func (r *Repository) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func idempotencyKey(userID, key string) string {
	return userID + "\x00" + key
}

// FindByIdempotency implements domain.SessionRepository.
func (r *Repository) FindByIdempotency(ctx context.Context, userID, key string) (*domain.StudySession, error) {
	if key == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idempotency[idempotencyKey(userID, key)]
	if !ok {
		return nil, nil
	}
	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// Create implements domain.SessionRepository.
func (r *Repository) Create(ctx context.Context, session domain.StudySession, key string) error {
	r.mu.Lock()
	if key != "" {
		if _, exists := r.idempotency[idempotencyKey(session.UserID, key)]; exists {
			r.mu.Unlock()
			return domain.ErrIdempotentReplay
		}
		r.idempotency[idempotencyKey(session.UserID, key)] = session.ID
	}
	r.sessions[session.ID] = session
	notify := r.onChange
	r.mu.Unlock()

	observability.RecordSessionPersisted(session.UpdatedAt)
	emit(notify, events.StudySessionLogged, session, session.CreatedAt)
	return nil
}

// Get implements domain.SessionRepository.
func (r *Repository) Get(ctx context.Context, userID, sessionID string) (*domain.StudySession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, nil
	}
	return &session, nil
}

// Update implements domain.SessionRepository.
func (r *Repository) Update(ctx context.Context, session domain.StudySession) error {
	r.mu.Lock()
	current, ok := r.sessions[session.ID]
	if !ok || current.UserID != session.UserID {
		r.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	session.CreatedAt = current.CreatedAt
	r.sessions[session.ID] = session
	notify := r.onChange
	r.mu.Unlock()

	observability.RecordSessionPersisted(session.UpdatedAt)
	emit(notify, events.StudySessionUpdated, session, session.UpdatedAt)
	return nil
}

// Delete implements domain.SessionRepository.
func (r *Repository) Delete(ctx context.Context, userID, sessionID string) (*domain.StudySession, error) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok || session.UserID != userID {
		r.mu.Unlock()
		return nil, nil
	}
	delete(r.sessions, sessionID)
	for k, id := range r.idempotency {
		if id == sessionID {
			delete(r.idempotency, k)
		}
	}
	notify := r.onChange
	r.mu.Unlock()

	emit(notify, events.StudySessionDeleted, session, time.Now().UTC())
	return &session, nil
}

// ListByUser implements domain.SessionRepository, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, filter domain.SessionFilter, cursor *domain.Cursor, limit int) ([]domain.StudySession, *domain.Cursor, error) {
	r.mu.RLock()
	all := make([]domain.StudySession, 0)
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if filter.LanguageID != "" && s.LanguageID != filter.LanguageID {
			continue
		}
		all = append(all, s)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return after(all[i], all[j]) })

	results := make([]domain.StudySession, 0, limit)
	for _, s := range all {
		if cursor != nil && !after(domain.StudySession{CreatedAt: cursor.CreatedAt, ID: cursor.ID}, s) {
			continue
		}
		results = append(results, s)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// after orders by (created_at, id) descending.
func after(a, b domain.StudySession) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Entries implements domain.SessionRepository.
func (r *Repository) Entries(ctx context.Context, userID string) ([]progress.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]progress.Entry, 0)
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s.Entry())
		}
	}
	return out, nil
}

// ActivityDays implements domain.SessionRepository.
func (r *Repository) ActivityDays(ctx context.Context, viewerID, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if viewerID != userID {
		if _, ok := r.follows[viewerID][userID]; !ok {
			return nil, nil
		}
	}
	seen := make(map[string]struct{})
	days := make([]string, 0)
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if _, dup := seen[s.ActivityDate]; dup {
			continue
		}
		seen[s.ActivityDate] = struct{}{}
		days = append(days, s.ActivityDate)
	}
	sort.Strings(days)
	return days, nil
}

// GetProfile implements domain.ProfileRepository.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// UpsertProfile implements domain.ProfileRepository. CreatedAt is fixed by the first write.
func (r *Repository) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.profiles[profile.UserID]; ok {
		profile.CreatedAt = existing.CreatedAt
	}
	r.profiles[profile.UserID] = profile
	return nil
}

// ListLanguages implements domain.LanguageRepository.
func (r *Repository) ListLanguages(ctx context.Context, userID string) ([]domain.Language, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Language, len(r.languages[userID]))
	copy(out, r.languages[userID])
	return out, nil
}

// AddLanguage implements domain.LanguageRepository.
func (r *Repository) AddLanguage(ctx context.Context, language domain.Language) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.languages[language.UserID] {
		if l.Code == language.Code {
			return domain.ErrLanguageExists
		}
	}
	r.languages[language.UserID] = append(r.languages[language.UserID], language)
	return nil
}

func goalKey(userID, languageID string) string {
	return userID + "\x00" + languageID
}

// GetGoal implements domain.GoalRepository.
func (r *Repository) GetGoal(ctx context.Context, userID, languageID string) (*domain.Goal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	goal, ok := r.goals[goalKey(userID, languageID)]
	if !ok {
		return nil, nil
	}
	return &goal, nil
}

// PutGoal implements domain.GoalRepository.
func (r *Repository) PutGoal(ctx context.Context, goal domain.Goal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.goals[goalKey(goal.UserID, goal.LanguageID)] = goal
	return nil
}

// Follow implements domain.FollowRepository.
func (r *Repository) Follow(ctx context.Context, follow domain.Follow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	followees, ok := r.follows[follow.FollowerID]
	if !ok {
		followees = make(map[string]domain.Follow)
		r.follows[follow.FollowerID] = followees
	}
	if _, exists := followees[follow.FolloweeID]; !exists {
		followees[follow.FolloweeID] = follow
	}
	return nil
}

// Unfollow implements domain.FollowRepository.
func (r *Repository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.follows[followerID], followeeID)
	return nil
}

// ListFollowees implements domain.FollowRepository, oldest follow first.
func (r *Repository) ListFollowees(ctx context.Context, followerID string) ([]domain.Follow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Follow, 0, len(r.follows[followerID]))
	for _, f := range r.follows[followerID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].FolloweeID < out[j].FolloweeID
	})
	return out, nil
}

func emit(fn ChangeFunc, eventType string, session domain.StudySession, at time.Time) {
	if fn == nil {
		return
	}
	fn(eventType, session.ChangeEvent(eventType, at))
}
