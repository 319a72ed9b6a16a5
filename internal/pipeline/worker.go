package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
	"github.com/vcon-dev/vcon-server-sub001/internal/metrics"
	"github.com/vcon-dev/vcon-server-sub001/internal/storage"
)

const storageKeyPrefix = "storage:"

// Worker binds one ingress queue to one chain: it blocks on the queue,
// hands each identifier to the retry runner, and on a completed outcome
// dispatches the record to the chain's storages and egress queue. Several
// workers may share one ingress queue; dequeue order is FIFO but completion
// order across workers is not guaranteed.
type Worker struct {
	chain      domain.Chain
	ingress    string
	runner     *Runner
	store      domain.RecordStore
	queue      domain.Queue
	storages   *storage.Registry
	popTimeout time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// WorkerConfig holds the dependencies for one worker loop.
type WorkerConfig struct {
	Chain      domain.Chain
	Ingress    string
	Runner     *Runner
	Store      domain.RecordStore
	Queue      domain.Queue
	Storages   *storage.Registry
	PopTimeout time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	return &Worker{
		chain:      cfg.Chain,
		ingress:    cfg.Ingress,
		runner:     cfg.Runner,
		store:      cfg.Store,
		queue:      cfg.Queue,
		storages:   cfg.Storages,
		popTimeout: cfg.PopTimeout,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Run loops until ctx is cancelled. The pop timeout keeps the loop
// responsive to shutdown between items.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "chain", w.chain.Name, "ingress", w.ingress)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "chain", w.chain.Name, "ingress", w.ingress)
			return
		default:
		}

		id, err := w.queue.PopBlocking(ctx, w.ingress, w.popTimeout)
		if errors.Is(err, domain.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping", "chain", w.chain.Name, "ingress", w.ingress)
				return
			}
			w.logger.Error("queue pop failed", "ingress", w.ingress, "error", err)
			// A broken queue fails the pop immediately; pause so the loop
			// does not spin hot while the fault persists.
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		w.ProcessOne(ctx, id)

		if depth, err := w.queue.Length(ctx, w.ingress); err == nil {
			w.metrics.QueueDepth.WithLabelValues(w.ingress).Set(float64(depth))
		}
	}
}

// ProcessOne runs the full dequeue cycle for one identifier: retry-wrapped
// chain execution, then storage and egress dispatch on completion.
func (w *Worker) ProcessOne(ctx context.Context, id string) {
	finalID, outcome := w.runner.Process(ctx, w.chain, w.ingress, id)
	if outcome != OutcomeCompleted {
		return
	}

	for _, name := range w.chain.Storages {
		if err := w.dispatch(ctx, name, finalID); err != nil {
			w.metrics.StorageSavesTotal.WithLabelValues(name, "error").Inc()
			w.logger.Error("storage dispatch failed",
				"chain", w.chain.Name, "storage", name, "uuid", finalID, "error", err)
			continue
		}
		w.metrics.StorageSavesTotal.WithLabelValues(name, "ok").Inc()
	}

	if w.chain.EgressList != "" {
		if err := w.queue.Push(ctx, w.chain.EgressList, finalID); err != nil {
			w.logger.Error("egress push failed",
				"chain", w.chain.Name, "egress", w.chain.EgressList, "uuid", finalID, "error", err)
		}
	}
}

// dispatch saves the record through one named storage. A record that
// vanished between execution and dispatch is tolerated (multi-key sequences
// are not atomic).
func (w *Worker) dispatch(ctx context.Context, name, id string) error {
	data, err := w.store.GetRaw(ctx, storageKeyPrefix+name)
	if err != nil {
		return fmt.Errorf("load storage definition: %w", err)
	}
	if data == nil {
		return fmt.Errorf("storage %s: no stored definition", name)
	}
	var def domain.StorageDef
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("storage %s: corrupt definition: %w", name, err)
	}

	backend, err := w.storages.Get(def.Type)
	if err != nil {
		return err
	}

	vc, err := w.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if vc == nil {
		w.logger.Warn("record gone before storage dispatch", "uuid", id, "storage", name)
		return nil
	}
	return backend.Save(ctx, vc, def.Options)
}
