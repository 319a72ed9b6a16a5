package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLite stores completed records in a dedicated vcons table in a SQLite
// file named by the `path` option. INSERT OR REPLACE keyed on the UUID makes
// repeated writes idempotent.
type SQLite struct {
	mu     sync.Mutex
	dbs    map[string]*sql.DB
	logger *slog.Logger
}

func NewSQLite(logger *slog.Logger) *SQLite {
	return &SQLite{dbs: make(map[string]*sql.DB), logger: logger}
}

func (s *SQLite) Save(ctx context.Context, vc *domain.Vcon, opts map[string]any) error {
	path, _ := opts["path"].(string)
	if path == "" {
		return fmt.Errorf("sqlite storage: path option is required")
	}

	db, err := s.open(path)
	if err != nil {
		return err
	}

	data, err := json.Marshal(vc)
	if err != nil {
		return fmt.Errorf("sqlite storage: marshal record %s: %w", vc.UUID, err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vcons (uuid, body, stored_at) VALUES (?, ?, ?)`,
		vc.UUID, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite storage: save record %s: %w", vc.UUID, err)
	}
	return nil
}

// Load reads a stored record back; absent yields (nil, nil). Used by
// operators and in tests to verify idempotence.
func (s *SQLite) Load(ctx context.Context, path, uuid string) (*domain.Vcon, error) {
	db, err := s.open(path)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = db.QueryRowContext(ctx,
		`SELECT body FROM vcons WHERE uuid = ?`, uuid,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var vc domain.Vcon
	if err := json.Unmarshal(data, &vc); err != nil {
		return nil, fmt.Errorf("sqlite storage: corrupt record %s: %w", uuid, err)
	}
	return &vc, nil
}

func (s *SQLite) open(path string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[path]; ok {
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite storage: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS vcons (
		uuid      TEXT PRIMARY KEY,
		body      BLOB NOT NULL,
		stored_at DATETIME
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite storage: migrate %s: %w", path, err)
	}

	s.dbs[path] = db
	return db, nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, path)
	}
	return firstErr
}
