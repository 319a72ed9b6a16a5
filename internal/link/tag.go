package link

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Tag appends configured "name:value" tags to a record's tags attachment.
type Tag struct {
	store  domain.RecordStore
	logger *slog.Logger
}

func NewTag(store domain.RecordStore, logger *slog.Logger) *Tag {
	return &Tag{store: store, logger: logger}
}

func (t *Tag) Defaults() map[string]any {
	return map[string]any{
		"tags": []string{},
	}
}

func (t *Tag) Run(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error) {
	vc, err := t.store.Get(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("%s: load record: %w", linkName, err)
	}
	if vc == nil {
		t.logger.Info("record not found, halting chain", "link", linkName, "uuid", recordID)
		return "", nil
	}

	for _, tag := range OptStrings(opts, "tags") {
		name, value, found := strings.Cut(tag, ":")
		if !found {
			value = ""
		}
		vc.AddTag(name, value)
	}

	if err := t.store.Set(ctx, vc); err != nil {
		return "", fmt.Errorf("%s: store record: %w", linkName, err)
	}
	return recordID, nil
}
