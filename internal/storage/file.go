package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// File writes each record as <dir>/<uuid>.json. Rewriting the same UUID
// replaces the file, so repeated saves are idempotent.
type File struct {
	logger *slog.Logger
}

func NewFile(logger *slog.Logger) *File {
	return &File{logger: logger}
}

func (f *File) Save(ctx context.Context, vc *domain.Vcon, opts map[string]any) error {
	dir, _ := opts["path"].(string)
	if dir == "" {
		return fmt.Errorf("file storage: path option is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file storage: create directory: %w", err)
	}

	data, err := json.MarshalIndent(vc, "", "  ")
	if err != nil {
		return fmt.Errorf("file storage: marshal record %s: %w", vc.UUID, err)
	}

	path := filepath.Join(dir, vc.UUID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("file storage: write %s: %w", path, err)
	}
	f.logger.Debug("record written", "path", path)
	return nil
}
