//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/testsupport/pgtest"
)

func newSession(userID, day string, created time.Time) domain.StudySession {
	return domain.StudySession{
		ID:              uuid.NewString(),
		UserID:          userID,
		ActivityID:      "reading",
		DurationSeconds: 1800,
		ActivityDate:    day,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestRepositoryScopesSessionsToTheirOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(pgtest.Start(t, ctx))

	owner := uuid.NewString()
	session := newSession(owner, "2024-03-01", time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, repo.Create(ctx, session, "key-1"))

	stored, err := repo.Get(ctx, owner, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "2024-03-01", stored.ActivityDate)
	require.Empty(t, stored.LanguageID)

	other, err := repo.Get(ctx, uuid.NewString(), session.ID)
	require.NoError(t, err)
	require.Nil(t, other, "row-level policies should hide other learners' sessions")

	replay, err := repo.FindByIdempotency(ctx, owner, "key-1")
	require.NoError(t, err)
	require.Equal(t, session.ID, replay.ID)

	err = repo.Create(ctx, newSession(owner, "2024-03-01", time.Now().UTC()), "key-1")
	require.ErrorIs(t, err, domain.ErrIdempotentReplay)
}

func TestRepositoryWritesOutboxEventsInTheSameTransaction(t *testing.T) {
	ctx := context.Background()
	pool := pgtest.Start(t, ctx)
	repo := NewRepository(pool)

	owner := uuid.NewString()
	session := newSession(owner, "2024-03-01", time.Now().UTC())
	require.NoError(t, repo.Create(ctx, session, ""))

	session.DurationSeconds = 60
	session.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, session))

	deleted, err := repo.Delete(ctx, owner, session.ID)
	require.NoError(t, err)
	require.Equal(t, int64(60), deleted.DurationSeconds)

	rows, err := pool.Query(ctx, `SELECT event_type, partition_key, topic FROM outbox WHERE aggregate_id=$1 ORDER BY event_id`, session.ID)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var eventType, key, topic string
		require.NoError(t, rows.Scan(&eventType, &key, &topic))
		require.Equal(t, owner, key)
		require.Equal(t, ChangeFeedTopic, topic)
		types = append(types, eventType)
	}
	require.Equal(t, []string{"study_session.logged", "study_session.updated", "study_session.deleted"}, types)

	missing, err := repo.Delete(ctx, owner, session.ID)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRepositoryPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(pgtest.Start(t, ctx))

	owner := uuid.NewString()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newSession(owner, "2024-03-01", base.Add(time.Duration(i)*time.Minute)), ""))
	}

	page, cursor, err := repo.ListByUser(ctx, owner, domain.SessionFilter{}, nil, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.NotNil(t, cursor)
	require.True(t, page[0].CreatedAt.After(page[2].CreatedAt))

	rest, next, err := repo.ListByUser(ctx, owner, domain.SessionFilter{}, cursor, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Nil(t, next)
}

func TestRepositoryActivityDaysRequireAFollow(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(pgtest.Start(t, ctx))

	learner, friend := uuid.NewString(), uuid.NewString()
	require.NoError(t, repo.Create(ctx, newSession(learner, "2024-03-01", time.Now().UTC()), ""))
	require.NoError(t, repo.Create(ctx, newSession(learner, "2024-03-02", time.Now().UTC()), ""))
	require.NoError(t, repo.Create(ctx, newSession(learner, "2024-03-02", time.Now().UTC()), ""))

	days, err := repo.ActivityDays(ctx, friend, learner)
	require.NoError(t, err)
	require.Empty(t, days)

	require.NoError(t, repo.Follow(ctx, domain.Follow{FollowerID: friend, FolloweeID: learner, CreatedAt: time.Now().UTC()}))
	days, err = repo.ActivityDays(ctx, friend, learner)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-03-01", "2024-03-02"}, days)

	follows, err := repo.ListFollowees(ctx, friend)
	require.NoError(t, err)
	require.Len(t, follows, 1)
}

func TestRepositoryProfileKeepsSignupTime(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(pgtest.Start(t, ctx))

	userID := uuid.NewString()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertProfile(ctx, domain.Profile{UserID: userID, TimeZone: "UTC", CreatedAt: created, UpdatedAt: created}))
	require.NoError(t, repo.UpsertProfile(ctx, domain.Profile{UserID: userID, TimeZone: "Asia/Tokyo", CreatedAt: time.Now(), UpdatedAt: time.Now()}))

	profile, err := repo.GetProfile(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, "Asia/Tokyo", profile.TimeZone)
	require.True(t, created.Equal(profile.CreatedAt))

	require.NoError(t, repo.PutGoal(ctx, domain.Goal{UserID: userID, DailyMinutes: 30, UpdatedAt: time.Now()}))
	goal, err := repo.GetGoal(ctx, userID, "")
	require.NoError(t, err)
	require.Equal(t, 30, goal.DailyMinutes)

	require.NoError(t, repo.AddLanguage(ctx, domain.Language{ID: uuid.NewString(), UserID: userID, Code: "ja", Name: "Japanese", CreatedAt: time.Now()}))
	err = repo.AddLanguage(ctx, domain.Language{ID: uuid.NewString(), UserID: userID, Code: "ja", Name: "Japanese", CreatedAt: time.Now()})
	require.ErrorIs(t, err, domain.ErrLanguageExists)
}
