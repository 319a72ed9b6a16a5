package link

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Sampler is a filter link: it halts propagation for records that match its
// criteria and forwards everything else unchanged. Halting is a successful
// outcome, not a failure.
type Sampler struct {
	store  domain.RecordStore
	logger *slog.Logger
}

func NewSampler(store domain.RecordStore, logger *slog.Logger) *Sampler {
	return &Sampler{store: store, logger: logger}
}

func (s *Sampler) Defaults() map[string]any {
	return map[string]any{
		"deny_tag":         "",
		"subject_contains": "",
	}
}

func (s *Sampler) Run(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error) {
	vc, err := s.store.Get(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("%s: load record: %w", linkName, err)
	}
	if vc == nil {
		s.logger.Info("record not found, halting chain", "link", linkName, "uuid", recordID)
		return "", nil
	}

	if denyTag := OptString(opts, "deny_tag"); denyTag != "" {
		for _, tag := range vc.Tags() {
			if tag == denyTag {
				s.logger.Debug("record filtered by tag", "link", linkName, "uuid", recordID, "tag", denyTag)
				return "", nil
			}
		}
	}

	if substr := OptString(opts, "subject_contains"); substr != "" {
		if strings.Contains(vc.Subject, substr) {
			s.logger.Debug("record filtered by subject", "link", linkName, "uuid", recordID)
			return "", nil
		}
	}

	return recordID, nil
}
