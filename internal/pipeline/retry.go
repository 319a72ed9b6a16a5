package pipeline

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
	"github.com/vcon-dev/vcon-server-sub001/internal/metrics"
)

// RetryPolicy bounds how often a failed chain execution is re-attempted and
// how long to wait between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     string // "fixed" | "exponential"
	Base        time.Duration
}

// Runner wraps one Executor invocation per dequeued item with bounded retry
// and terminal dead-letter routing. Failures never propagate to the caller;
// operators observe them through logs, metrics, and DLQ growth.
type Runner struct {
	executor *Executor
	store    domain.RecordStore
	queue    domain.Queue
	policy   RetryPolicy
	dlqTTL   time.Duration // 0 disables the retention extension
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewRunner(executor *Executor, store domain.RecordStore, queue domain.Queue, policy RetryPolicy, dlqTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Base <= 0 {
		policy.Base = time.Second
	}
	return &Runner{
		executor: executor,
		store:    store,
		queue:    queue,
		policy:   policy,
		dlqTTL:   dlqTTL,
		metrics:  m,
		logger:   logger,
	}
}

// Process executes the chain for one dequeued identifier, retrying from the
// start of the chain on failure. Links are expected to be idempotent
// re-entrants; that contract sits with link authors, not the engine. When
// attempts are exhausted the identifier goes to the DLQ derived from the
// originating ingress queue and the record's TTL is extended to the
// dead-letter retention window.
func (r *Runner) Process(ctx context.Context, chain domain.Chain, ingress, recordID string) (string, Outcome) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			r.metrics.RetryAttemptsTotal.Inc()
			backoff := r.backoff(attempt - 1)
			r.logger.Warn("retrying chain execution",
				"chain", chain.Name, "uuid", recordID, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				// Shutdown mid-retry abandons the item, consistent with the
				// at-most-once dequeue semantics.
				r.logger.Warn("shutdown during retry backoff, abandoning item",
					"chain", chain.Name, "uuid", recordID)
				return "", OutcomeAborted
			case <-time.After(backoff):
			}
		}

		finalID, outcome, err := r.executor.Execute(ctx, chain, recordID)
		if err == nil {
			r.metrics.ProcessedTotal.WithLabelValues(chain.Name, outcome.String()).Inc()
			return finalID, outcome
		}
		lastErr = err
		r.logger.Error("chain execution failed",
			"chain", chain.Name, "uuid", recordID, "attempt", attempt, "error", err)
	}

	return "", r.deadLetter(ctx, chain, ingress, recordID, lastErr)
}

// maxBackoff caps the exponential curve; past it every retry waits the same.
const maxBackoff = 5 * time.Minute

// backoff returns the wait before retry n (n >= 1), with jitter. The
// exponential curve saturates at maxBackoff; an unchecked shift would
// overflow the duration on high attempt counts.
func (r *Runner) backoff(n int) time.Duration {
	base := r.policy.Base
	if r.policy.Backoff == "exponential" {
		shift := uint(n - 1)
		if shift >= 63 || base > maxBackoff>>shift {
			base = maxBackoff
		} else {
			base <<= shift
		}
	}
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return base + jitter
}

func (r *Runner) deadLetter(ctx context.Context, chain domain.Chain, ingress, recordID string, cause error) Outcome {
	dlq := domain.DLQName(ingress)
	if err := r.queue.Push(ctx, dlq, recordID); err != nil {
		r.logger.Error("dead-letter push failed", "queue", dlq, "uuid", recordID, "error", err)
	}
	if r.dlqTTL > 0 {
		if err := r.store.ExtendTTL(ctx, recordID, r.dlqTTL); err != nil {
			r.logger.Error("dead-letter TTL extension failed", "uuid", recordID, "error", err)
		}
	}

	r.metrics.ProcessedTotal.WithLabelValues(chain.Name, OutcomeDeadLettered.String()).Inc()
	r.metrics.DeadLetteredTotal.WithLabelValues(ingress).Inc()
	r.logger.Error("record dead-lettered",
		"chain", chain.Name, "uuid", recordID, "queue", dlq, "cause", cause)
	return OutcomeDeadLettered
}
