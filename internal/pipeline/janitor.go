package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/store"
)

// Janitor periodically sweeps expired keys out of the shared store. Expiry
// is also checked lazily on read; the sweep keeps the table from
// accumulating dead rows.
type Janitor struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger
}

func NewJanitor(s *store.Store, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{store: s, interval: interval, logger: logger}
}

func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.store.SweepExpired(ctx)
			if err != nil {
				j.logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Debug("expired keys swept", "count", n)
			}
		}
	}
}
