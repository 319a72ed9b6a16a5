package domain

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by a blocking queue pop that saw no item before its
// deadline.
var ErrTimeout = errors.New("queue pop timed out")

// RecordStore is the shared store for records and namespaced configuration
// keys. Get on an absent or expired key returns (nil, nil). Set overwrites
// wholesale and refreshes the TTL; concurrent sets race and the last writer
// wins.
type RecordStore interface {
	Get(ctx context.Context, id string) (*Vcon, error)
	Set(ctx context.Context, vc *Vcon) error
	SetWithTTL(ctx context.Context, vc *Vcon, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	ExtendTTL(ctx context.Context, id string, ttl time.Duration) error

	// Raw dict-level access used for configuration keys and by plugins that
	// do not need the record abstraction. A ttl <= 0 means no expiry.
	GetRaw(ctx context.Context, key string) ([]byte, error)
	SetRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteRaw(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Queue is a named FIFO list of record identifiers. Push is non-blocking;
// PopBlocking returns ErrTimeout when nothing arrives before the timeout.
// The atomic pop delivers each item to at most one concurrent consumer.
type Queue interface {
	Push(ctx context.Context, queue, id string) error
	PopBlocking(ctx context.Context, queue string, timeout time.Duration) (string, error)
	PopN(ctx context.Context, queue string, n int) ([]string, error)
	Length(ctx context.Context, queue string) (int, error)
}

// Link is one processing stage. Run loads the record, mutates it, writes it
// back, and returns the identifier to forward to the next stage. An empty
// return with a nil error deliberately halts propagation (a filter result);
// an absent record must be reported the same way, never as an error. A
// non-nil error is a genuine stage failure and is retried by the engine.
type Link interface {
	Run(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error)
}

// LinkDefaulter is optionally implemented by links that carry default
// options. Configured options are shallow-merged over these defaults.
type LinkDefaulter interface {
	Defaults() map[string]any
}

// Storage persists a completed record to an external backend. Save must be
// idempotent: storing the same record twice yields the same retrievable
// state as storing it once.
type Storage interface {
	Save(ctx context.Context, vc *Vcon, opts map[string]any) error
}

// Adapter is a long-running ingestion integration. Start blocks until ctx is
// cancelled or the adapter fails.
type Adapter interface {
	Start(ctx context.Context) error
}
