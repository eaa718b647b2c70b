package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/studylog/internal/domain"
)

// GetProfile returns the profile, or nil when the learner has none yet.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var found *domain.Profile
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		var p domain.Profile
		err := tx.QueryRow(ctx, `SELECT user_id, time_zone, created_at, updated_at FROM profiles WHERE user_id=$1`, userID).
			Scan(&p.UserID, &p.TimeZone, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = &p
		return nil
	})
	return found, err
}

// UpsertProfile inserts the profile or updates its time zone; created_at is never rewritten.
func (r *Repository) UpsertProfile(ctx context.Context, profile domain.Profile) error {
	return r.withUser(ctx, profile.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO profiles (user_id, time_zone, created_at, updated_at) VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id) DO UPDATE SET time_zone=EXCLUDED.time_zone, updated_at=EXCLUDED.updated_at`,
			profile.UserID, profile.TimeZone, profile.CreatedAt, profile.UpdatedAt)
		return err
	})
}

// ListLanguages returns tracked languages in the order they were added.
func (r *Repository) ListLanguages(ctx context.Context, userID string) ([]domain.Language, error) {
	languages := make([]domain.Language, 0)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT language_id, user_id, code, name, created_at FROM languages WHERE user_id=$1 ORDER BY created_at, code`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l domain.Language
			if err := rows.Scan(&l.ID, &l.UserID, &l.Code, &l.Name, &l.CreatedAt); err != nil {
				return err
			}
			languages = append(languages, l)
		}
		return rows.Err()
	})
	return languages, err
}

// AddLanguage inserts a tracked language.
func (r *Repository) AddLanguage(ctx context.Context, language domain.Language) error {
	return r.withUser(ctx, language.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO languages (language_id, user_id, code, name, created_at) VALUES ($1,$2,$3,$4,$5)`,
			language.ID, language.UserID, language.Code, language.Name, language.CreatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrLanguageExists
		}
		return err
	})
}

// GetGoal returns the goal for the language ('' for the all-languages goal).
func (r *Repository) GetGoal(ctx context.Context, userID, languageID string) (*domain.Goal, error) {
	var found *domain.Goal
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		var g domain.Goal
		err := tx.QueryRow(ctx, `SELECT user_id, language_id, daily_minutes, updated_at FROM goals WHERE user_id=$1 AND language_id=$2`, userID, languageID).
			Scan(&g.UserID, &g.LanguageID, &g.DailyMinutes, &g.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = &g
		return nil
	})
	return found, err
}

// PutGoal upserts a goal.
func (r *Repository) PutGoal(ctx context.Context, goal domain.Goal) error {
	return r.withUser(ctx, goal.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO goals (user_id, language_id, daily_minutes, updated_at) VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id, language_id) DO UPDATE SET daily_minutes=EXCLUDED.daily_minutes, updated_at=EXCLUDED.updated_at`,
			goal.UserID, goal.LanguageID, goal.DailyMinutes, goal.UpdatedAt)
		return err
	})
}

// Follow records the edge; repeating it is a no-op.
func (r *Repository) Follow(ctx context.Context, follow domain.Follow) error {
	return r.withUser(ctx, follow.FollowerID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO follows (follower_id, followee_id, created_at) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			follow.FollowerID, follow.FolloweeID, follow.CreatedAt)
		return err
	})
}

// Unfollow removes the edge if present.
func (r *Repository) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return r.withUser(ctx, followerID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM follows WHERE follower_id=$1 AND followee_id=$2`, followerID, followeeID)
		return err
	})
}

// ListFollowees returns the learners followerID follows, oldest first.
func (r *Repository) ListFollowees(ctx context.Context, followerID string) ([]domain.Follow, error) {
	follows := make([]domain.Follow, 0)
	err := r.withUser(ctx, followerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT follower_id, followee_id, created_at FROM follows WHERE follower_id=$1 ORDER BY created_at, followee_id`, followerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var f domain.Follow
			if err := rows.Scan(&f.FollowerID, &f.FolloweeID, &f.CreatedAt); err != nil {
				return err
			}
			follows = append(follows, f)
		}
		return rows.Err()
	})
	return follows, err
}
