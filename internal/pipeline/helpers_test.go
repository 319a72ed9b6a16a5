package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
	"github.com/vcon-dev/vcon-server-sub001/internal/link"
	"github.com/vcon-dev/vcon-server-sub001/internal/metrics"
	"github.com/vcon-dev/vcon-server-sub001/internal/queue"
	"github.com/vcon-dev/vcon-server-sub001/internal/storage"
	"github.com/vcon-dev/vcon-server-sub001/internal/store"
)

// testEnv wires a real store, queue, and registries against a temp SQLite
// file, the way serve does at startup.
type testEnv struct {
	db       *sql.DB
	store    *store.Store
	queue    *queue.Queue
	links    *link.Registry
	storages *storage.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)

	s, err := store.New(db, time.Hour, logger)
	require.NoError(t, err)
	q, err := queue.New(db, logger)
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		store:    s,
		queue:    q,
		links:    link.NewRegistry(logger),
		storages: storage.NewRegistry(logger),
		metrics:  metrics.New(prometheus.NewRegistry()),
		logger:   logger,
	}
}

// defineLink stores a link definition under its namespaced key and registers
// the implementation, mirroring what the distributor and startup wiring do.
func (env *testEnv) defineLink(t *testing.T, name, linkType string, opts map[string]any, impl domain.Link) {
	t.Helper()
	def := domain.LinkDef{Type: linkType, Options: opts}
	data, err := json.Marshal(def)
	require.NoError(t, err)
	require.NoError(t, env.store.SetRaw(context.Background(), "link:"+name, data, 0))
	if impl != nil {
		env.links.Register(linkType, impl)
	}
}

func (env *testEnv) defineStorage(t *testing.T, name, storageType string, opts map[string]any) {
	t.Helper()
	def := domain.StorageDef{Type: storageType, Options: opts}
	data, err := json.Marshal(def)
	require.NoError(t, err)
	require.NoError(t, env.store.SetRaw(context.Background(), "storage:"+name, data, 0))
}

func (env *testEnv) seedRecord(t *testing.T) *domain.Vcon {
	t.Helper()
	vc := domain.NewVcon()
	require.NoError(t, env.store.Set(context.Background(), vc))
	return vc
}

func (env *testEnv) executor() *Executor {
	return NewExecutor(env.store, env.links, env.logger)
}

func (env *testEnv) runner(policy RetryPolicy, dlqTTL time.Duration) *Runner {
	return NewRunner(env.executor(), env.store, env.queue, policy, dlqTTL, env.metrics, env.logger)
}

// fakeLink counts invocations and delegates to a configurable run func.
type fakeLink struct {
	calls atomic.Int32
	run   func(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error)
}

func (f *fakeLink) Run(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error) {
	f.calls.Add(1)
	if f.run == nil {
		return recordID, nil
	}
	return f.run(ctx, recordID, linkName, opts)
}

func passThrough() *fakeLink {
	return &fakeLink{}
}

func alwaysFilter() *fakeLink {
	return &fakeLink{run: func(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error) {
		return "", nil
	}}
}

func alwaysFail(err error) *fakeLink {
	return &fakeLink{run: func(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error) {
		return "", err
	}}
}
