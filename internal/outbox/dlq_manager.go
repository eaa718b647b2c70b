package outbox

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxBackoff = time.Hour

// DLQManager replays parked change events with exponential backoff and quarantines those
// that exhaust their retries.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     *log.Logger
}

// NewDLQManager constructs a DLQManager. Non-positive settings fall back to 5 retries and a
// one minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{
		pool:       pool,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     log.New(log.Writer(), "[dlq] ", log.LstdFlags),
	}
}

// Run drains due entries every interval until ctx is cancelled.
func (m *DLQManager) Run(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handled, err := m.RunOnce(ctx, batchSize)
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Printf("run: %v", err)
			}
			if handled > 0 {
				m.logger.Printf("handled %d parked change events", handled)
			}
		}
	}
}

// RunOnce handles one batch of due entries and returns how many were requeued or
// quarantined. Per-entry failures are joined into the returned error.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	rows, err := m.pool.Query(ctx, dueEntriesQuery, batchSize)
	if err != nil {
		return 0, err
	}
	entries, err := pgx.CollectRows(rows, scanDLQEntry)
	if err != nil {
		return 0, err
	}

	var errs error
	handled := 0
	for _, entry := range entries {
		if err := m.handle(ctx, entry); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		handled++
	}

	if backlog, err := dlqBacklog(ctx, m.pool); err == nil {
		dlqBacklogGauge.Set(float64(backlog))
	}
	return handled, errs
}

func (m *DLQManager) handle(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if entry.RetryCount >= m.maxRetries {
		if _, err := tx.Exec(ctx, `UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`, "retry limit reached", entry.ID); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		dlqOutcomes.WithLabelValues(entry.Topic, entry.EventType, "quarantined").Inc()
		return nil
	}

	if err := requeue(ctx, tx, entry); err != nil {
		// The failed insert aborted tx; the retry is scheduled on the pool.
		_ = tx.Rollback(ctx)
		return m.scheduleRetry(ctx, entry, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	dlqOutcomes.WithLabelValues(entry.Topic, entry.EventType, "requeued").Inc()
	return nil
}

func (m *DLQManager) scheduleRetry(ctx context.Context, entry dlqEntry, cause error) error {
	if _, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq
		    SET retry_count = retry_count + 1,
		        last_attempt_at = NOW(),
		        next_retry_at = NOW() + $1::interval,
		        reason = $2
		  WHERE dlq_id = $3`,
		m.backoffDelay(entry.RetryCount+1), cause.Error(), entry.ID,
	); err != nil {
		return err
	}
	dlqOutcomes.WithLabelValues(entry.Topic, entry.EventType, "retry_scheduled").Inc()
	return nil
}

// backoffDelay doubles baseDelay per attempt, capped at maxBackoff.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 {
		return maxBackoff
	}
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}
