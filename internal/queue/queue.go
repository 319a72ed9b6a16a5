package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// pollInterval bounds how long a blocking pop sleeps between attempts.
const pollInterval = 50 * time.Millisecond

// Queue implements domain.Queue on the shared SQLite handle. Items are
// ordered by rowid, so FIFO holds per producer; the delete-returning pop is
// atomic, delivering each item to at most one concurrent consumer.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) (*Queue, error) {
	q := &Queue{db: db, logger: logger}
	if err := q.migrate(); err != nil {
		return nil, fmt.Errorf("queue migration failed: %w", err)
	}
	return q, nil
}

func (q *Queue) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		queue     TEXT NOT NULL,
		item      TEXT NOT NULL,
		pushed_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_queue_items_queue ON queue_items(queue, id);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Push appends an identifier to the named queue.
func (q *Queue) Push(ctx context.Context, queue, id string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO queue_items (queue, item) VALUES (?, ?)`, queue, id,
	)
	return err
}

// tryPop removes and returns the oldest item, or "" when the queue is empty.
func (q *Queue) tryPop(ctx context.Context, queue string) (string, error) {
	var item string
	err := q.db.QueryRowContext(ctx,
		`DELETE FROM queue_items
		 WHERE id = (SELECT id FROM queue_items WHERE queue = ? ORDER BY id LIMIT 1)
		 RETURNING item`, queue,
	).Scan(&item)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return item, nil
}

// PopBlocking waits up to timeout for an item, returning domain.ErrTimeout
// when nothing arrives. The wait also ends when ctx is cancelled, keeping
// workers responsive to shutdown.
func (q *Queue) PopBlocking(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		item, err := q.tryPop(ctx, queue)
		if err != nil {
			return "", err
		}
		if item != "" {
			return item, nil
		}
		if time.Now().After(deadline) {
			return "", domain.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// PopN drains up to n items in FIFO order. Used by the egress endpoint and
// the follower's flush pass; an empty queue yields an empty slice.
func (q *Queue) PopN(ctx context.Context, queue string, n int) ([]string, error) {
	var items []string
	for i := 0; i < n; i++ {
		item, err := q.tryPop(ctx, queue)
		if err != nil {
			return items, err
		}
		if item == "" {
			break
		}
		items = append(items, item)
	}
	return items, nil
}

// Length reports how many items the named queue currently holds.
func (q *Queue) Length(ctx context.Context, queue string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE queue = ?`, queue,
	).Scan(&n)
	return n, err
}
