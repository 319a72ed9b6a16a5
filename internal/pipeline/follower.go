package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/config"
	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
	"github.com/vcon-dev/vcon-server-sub001/internal/metrics"
)

const defaultFetchLimit = 100

// Follower replicates a remote instance's egress queue: each tick it drains
// a bounded batch of identifiers from the remote, pulls each referenced
// record, stores it locally, and enqueues it onto a local ingress queue.
// A failed tick is abandoned; the next tick retries independently.
type Follower struct {
	target  config.FollowerTarget
	store   domain.RecordStore
	queue   domain.Queue
	client  *http.Client
	tick    time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewFollower(target config.FollowerTarget, store domain.RecordStore, queue domain.Queue, client *http.Client, tick time.Duration, m *metrics.Metrics, logger *slog.Logger) *Follower {
	if target.FetchLimit <= 0 {
		target.FetchLimit = defaultFetchLimit
	}
	if target.Name == "" {
		target.Name = target.URL
	}
	return &Follower{
		target:  target,
		store:   store,
		queue:   queue,
		client:  client,
		tick:    tick,
		metrics: m,
		logger:  logger,
	}
}

// Run polls the remote until ctx is cancelled. When the target asks for a
// flush-first pass, the remote backlog is drained at a throttled rate before
// steady-state polling begins so a large backlog cannot overwhelm a freshly
// connected follower.
func (f *Follower) Run(ctx context.Context) {
	f.logger.Info("follower started", "target", f.target.Name, "egress", f.target.EgressList)

	if f.target.FlushFirst {
		f.flush(ctx)
	}

	ticker := time.NewTicker(f.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("follower stopping", "target", f.target.Name)
			return
		case <-ticker.C:
			if _, err := f.Tick(ctx); err != nil {
				f.logger.Error("follower tick failed", "target", f.target.Name, "error", err)
			}
		}
	}
}

// flush repeatedly drains the remote egress list until a fetch comes back
// empty, sleeping between cycles at the configured flush rate or half the
// steady-state interval.
func (f *Follower) flush(ctx context.Context) {
	sleep := time.Duration(f.target.FlushSleepMs) * time.Millisecond
	if sleep <= 0 {
		sleep = f.tick / 2
	}
	f.logger.Info("follower flushing remote backlog", "target", f.target.Name)
	for {
		n, err := f.Tick(ctx)
		if err != nil {
			f.logger.Error("follower flush fetch failed", "target", f.target.Name, "error", err)
			return
		}
		if n == 0 {
			f.logger.Info("follower flush complete", "target", f.target.Name)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Tick performs one fetch cycle and reports how many identifiers the remote
// returned. A missing remote record (HTTP 404) is logged and skipped, never
// fatal.
func (f *Follower) Tick(ctx context.Context) (int, error) {
	ids, err := f.fetchEgress(ctx)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		vc, err := f.fetchRecord(ctx, id)
		if err != nil {
			f.logger.Error("record fetch failed", "target", f.target.Name, "uuid", id, "error", err)
			continue
		}
		if vc == nil {
			f.logger.Warn("remote record not found, skipping", "target", f.target.Name, "uuid", id)
			continue
		}
		if err := f.store.Set(ctx, vc); err != nil {
			f.logger.Error("local store failed", "target", f.target.Name, "uuid", id, "error", err)
			continue
		}
		if err := f.queue.Push(ctx, f.target.LocalIngress, id); err != nil {
			f.logger.Error("local enqueue failed", "target", f.target.Name, "uuid", id, "error", err)
			continue
		}
		f.metrics.FollowerFetchedTotal.WithLabelValues(f.target.Name).Inc()
	}
	return len(ids), nil
}

func (f *Follower) fetchEgress(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/vcon/egress?egress_list=%s&limit=%s",
		f.target.URL, url.QueryEscape(f.target.EgressList), strconv.Itoa(f.target.FetchLimit))

	body, status, err := f.get(ctx, u)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("egress fetch: HTTP %d", status)
	}

	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("egress fetch: decode: %w", err)
	}
	return ids, nil
}

// fetchRecord returns (nil, nil) for a remote 404.
func (f *Follower) fetchRecord(ctx context.Context, id string) (*domain.Vcon, error) {
	body, status, err := f.get(ctx, f.target.URL+"/vcon/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("record fetch: HTTP %d", status)
	}

	var vc domain.Vcon
	if err := json.Unmarshal(body, &vc); err != nil {
		return nil, fmt.Errorf("record fetch: decode: %w", err)
	}
	return &vc, nil
}

func (f *Follower) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if f.target.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.target.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
