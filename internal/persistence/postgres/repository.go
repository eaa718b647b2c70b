package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/studylog/internal/domain"
	"example.com/studylog/internal/events"
	"example.com/studylog/internal/observability"
	"example.com/studylog/internal/progress"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for study sessions and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// withUser runs fn in a transaction scoped to userID for the row-level security policies.
func (r *Repository) withUser(ctx context.Context, userID string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.user_id', $1, true)", userID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const sessionColumns = `session_id, user_id, COALESCE(language_id, ''), activity_id, duration_seconds, activity_date, notes, created_at, updated_at`

func scanSession(row pgx.Row) (domain.StudySession, error) {
	var (
		s   domain.StudySession
		day time.Time
	)
	err := row.Scan(&s.ID, &s.UserID, &s.LanguageID, &s.ActivityID, &s.DurationSeconds, &day, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	s.ActivityDate = day.Format(progress.DateLayout)
	return s, err
}

// FindByIdempotency checks if a session already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, userID, idempotencyKey string) (*domain.StudySession, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	var found *domain.StudySession
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE user_id=$1 AND idempotency_key=$2`, userID, idempotencyKey)
		s, err := scanSession(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = &s
		return nil
	})
	return found, err
}

// Create persists the session and records its outbox event inside a single transaction.
func (r *Repository) Create(ctx context.Context, session domain.StudySession, idempotencyKey string) error {
	day, err := time.Parse(progress.DateLayout, session.ActivityDate)
	if err != nil {
		return domain.ErrInvalidDate
	}

	err = r.withUser(ctx, session.UserID, func(tx pgx.Tx) error {
		const insertSession = `INSERT INTO study_sessions (session_id, user_id, language_id, activity_id, duration_seconds, activity_date, notes, idempotency_key, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

		if _, err := tx.Exec(ctx, insertSession,
			session.ID,
			session.UserID,
			nullIfEmpty(session.LanguageID),
			session.ActivityID,
			session.DurationSeconds,
			day,
			session.Notes,
			nullIfEmpty(idempotencyKey),
			session.CreatedAt,
			session.UpdatedAt,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return domain.ErrIdempotentReplay
			}
			return err
		}
		return insertOutbox(ctx, tx, session, events.StudySessionLogged, session.CreatedAt)
	})
	if err != nil {
		return err
	}
	observability.RecordSessionPersisted(session.UpdatedAt)
	return nil
}

// Get retrieves a session by ID for its owner.
func (r *Repository) Get(ctx context.Context, userID, sessionID string) (*domain.StudySession, error) {
	var found *domain.StudySession
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE user_id=$1 AND session_id=$2`, userID, sessionID)
		s, err := scanSession(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = &s
		return nil
	})
	return found, err
}

// Update rewrites the mutable columns and records an outbox event.
func (r *Repository) Update(ctx context.Context, session domain.StudySession) error {
	day, err := time.Parse(progress.DateLayout, session.ActivityDate)
	if err != nil {
		return domain.ErrInvalidDate
	}

	err = r.withUser(ctx, session.UserID, func(tx pgx.Tx) error {
		const stmt = `UPDATE study_sessions SET language_id=$3, activity_id=$4, duration_seconds=$5, activity_date=$6, notes=$7, updated_at=$8
        WHERE user_id=$1 AND session_id=$2`
		tag, err := tx.Exec(ctx, stmt,
			session.UserID,
			session.ID,
			nullIfEmpty(session.LanguageID),
			session.ActivityID,
			session.DurationSeconds,
			day,
			session.Notes,
			session.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrSessionNotFound
		}
		return insertOutbox(ctx, tx, session, events.StudySessionUpdated, session.UpdatedAt)
	})
	if err != nil {
		return err
	}
	observability.RecordSessionPersisted(session.UpdatedAt)
	return nil
}

// Delete removes the session and records an outbox event. A missing row yields (nil, nil).
func (r *Repository) Delete(ctx context.Context, userID, sessionID string) (*domain.StudySession, error) {
	var deleted *domain.StudySession
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `DELETE FROM study_sessions WHERE user_id=$1 AND session_id=$2 RETURNING `+sessionColumns, userID, sessionID)
		s, err := scanSession(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		deleted = &s
		return insertOutbox(ctx, tx, s, events.StudySessionDeleted, time.Now().UTC())
	})
	return deleted, err
}

// ListByUser returns sessions for a user ordered newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, filter domain.SessionFilter, cursor *domain.Cursor, limit int) ([]domain.StudySession, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + sessionColumns + ` FROM study_sessions WHERE user_id=$1`

	if filter.LanguageID != "" {
		args = append(args, filter.LanguageID)
		query += fmt.Sprintf(` AND language_id=$%d`, len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(` AND (created_at, session_id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	query += ` ORDER BY created_at DESC, session_id DESC LIMIT $2`

	results := make([]domain.StudySession, 0, limit)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				return err
			}
			results = append(results, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// Entries loads every session of the user in the aggregator shape.
func (r *Repository) Entries(ctx context.Context, userID string) ([]progress.Entry, error) {
	entries := make([]progress.Entry, 0)
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT user_id, COALESCE(language_id, ''), activity_id, duration_seconds, activity_date, created_at
        FROM study_sessions WHERE user_id=$1`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e   progress.Entry
				day time.Time
			)
			if err := rows.Scan(&e.UserID, &e.LanguageID, &e.ActivityID, &e.DurationSeconds, &day, &e.CreatedAt); err != nil {
				return err
			}
			e.ActivityDate = day.Format(progress.DateLayout)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// ActivityDays returns the distinct study days of userID as visible to viewerID.
func (r *Repository) ActivityDays(ctx context.Context, viewerID, userID string) ([]string, error) {
	days := make([]string, 0)
	err := r.withUser(ctx, viewerID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT DISTINCT activity_date FROM study_sessions
        WHERE user_id=$1 AND ($1 = $2 OR EXISTS (SELECT 1 FROM follows WHERE follower_id=$2 AND followee_id=$1))
        ORDER BY activity_date`, userID, viewerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var day time.Time
			if err := rows.Scan(&day); err != nil {
				return err
			}
			days = append(days, day.Format(progress.DateLayout))
		}
		return rows.Err()
	})
	return days, err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, session domain.StudySession, eventType string, at time.Time) error {
	body, err := json.Marshal(session.ChangeEvent(eventType, at))
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s:%d", session.ID, eventType, at.UnixNano())

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		session.UserID,
		"study_session",
		session.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(session),
		body,
		dedupeKey,
	)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.StudySession) string
}

// ChangeFeedTopic carries every study session change.
const ChangeFeedTopic = "study_session_events"

func byUser(s domain.StudySession) string {
	return s.UserID
}

var eventCatalog = map[string]EventMetadata{
	events.StudySessionLogged:  {Topic: ChangeFeedTopic, SchemaSubject: ChangeFeedTopic + "-value", PartitionKeyFn: byUser},
	events.StudySessionUpdated: {Topic: ChangeFeedTopic, SchemaSubject: ChangeFeedTopic + "-value", PartitionKeyFn: byUser},
	events.StudySessionDeleted: {Topic: ChangeFeedTopic, SchemaSubject: ChangeFeedTopic + "-value", PartitionKeyFn: byUser},
}
