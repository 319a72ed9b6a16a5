package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"

	_ "modernc.org/sqlite"
)

const recordKeyPrefix = "vcon:"

// Store implements domain.RecordStore on a shared SQLite handle. Records and
// namespaced configuration entries live in one key-value table with optional
// per-key expiry.
type Store struct {
	db         *sql.DB
	defaultTTL time.Duration
	logger     *slog.Logger
}

// Open opens (or creates) the shared SQLite database. The returned handle is
// meant to be constructed once in main and injected into every component
// that needs the shared store.
func Open(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway, and a single
	// connection makes the queue's delete-returning pop atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// New creates a Store on an open handle. defaultTTL bounds the lifetime of a
// record written without an explicit TTL; it is never infinite.
func New(db *sql.DB, defaultTTL time.Duration, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, defaultTTL: defaultTTL, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get fetches a record by UUID. Absent and expired keys both yield (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*domain.Vcon, error) {
	data, err := s.GetRaw(ctx, recordKeyPrefix+id)
	if err != nil || data == nil {
		return nil, err
	}
	var vc domain.Vcon
	if err := json.Unmarshal(data, &vc); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return &vc, nil
}

// Set writes a record wholesale with the default TTL.
func (s *Store) Set(ctx context.Context, vc *domain.Vcon) error {
	return s.SetWithTTL(ctx, vc, s.defaultTTL)
}

// SetWithTTL writes a record wholesale and refreshes its expiry. A ttl <= 0
// stores the record without expiry (used for dead-letter retention when the
// window is configured open-ended).
func (s *Store) SetWithTTL(ctx context.Context, vc *domain.Vcon, ttl time.Duration) error {
	data, err := json.Marshal(vc)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", vc.UUID, err)
	}
	return s.SetRaw(ctx, recordKeyPrefix+vc.UUID, data, ttl)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DeleteRaw(ctx, recordKeyPrefix+id)
}

// ExtendTTL resets a record's expiry to now+ttl without touching its body.
// Extending an absent record is a no-op.
func (s *Store) ExtendTTL(ctx context.Context, id string, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE kv SET expires_at = ? WHERE key = ?`,
		expires, recordKeyPrefix+id,
	)
	return err
}

// TTL reports the remaining lifetime of a record's key. A zero duration with
// ok=true means the key has no expiry.
func (s *Store) TTL(ctx context.Context, id string) (time.Duration, bool, error) {
	var expires sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM kv WHERE key = ?`, recordKeyPrefix+id,
	).Scan(&expires)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !expires.Valid {
		return 0, true, nil
	}
	return time.Until(time.UnixMilli(expires.Int64)), true, nil
}

// GetRaw returns the value at key, or nil when absent or expired.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var expires sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&data, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid && time.Now().UnixMilli() >= expires.Int64 {
		// Lazy expiry; the janitor sweeps the rest.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return nil, nil
	}
	return data, nil
}

func (s *Store) SetRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expires,
	)
	return err
}

func (s *Store) DeleteRaw(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Keys lists unexpired keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv
		 WHERE key LIKE ? || '%' AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY key`,
		prefix, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SweepExpired deletes all expired rows and returns how many were removed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
