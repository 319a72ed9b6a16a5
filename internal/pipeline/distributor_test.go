package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcon-dev/vcon-server-sub001/internal/adapter"
	"github.com/vcon-dev/vcon-server-sub001/internal/config"
	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

func testDocument() *config.Document {
	doc := config.Defaults()
	doc.Links["tag_in"] = domain.LinkDef{
		Type:    "tag",
		Options: map[string]any{"tags": []any{"env:test"}},
	}
	doc.Storages["archive"] = domain.StorageDef{
		Type:    "file",
		Options: map[string]any{"path": "/tmp/archive"},
	}
	doc.Chains["main"] = domain.Chain{
		Links:        []string{"tag_in"},
		IngressLists: []string{"in"},
		EgressList:   "out",
		Storages:     []string{"archive"},
		Workers:      2,
		Enabled:      true,
	}
	return doc
}

func (env *testEnv) distributor() *Distributor {
	return NewDistributor(env.store, adapter.NewRegistry(env.logger), env.logger)
}

func TestDistributor_ApplyWritesNamespacedKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.distributor().Apply(ctx, testDocument()))

	data, err := env.store.GetRaw(ctx, "link:tag_in")
	require.NoError(t, err)
	require.NotNil(t, data)
	var ld domain.LinkDef
	require.NoError(t, json.Unmarshal(data, &ld))
	assert.Equal(t, "tag", ld.Type)

	data, err = env.store.GetRaw(ctx, "storage:archive")
	require.NoError(t, err)
	require.NotNil(t, data)

	data, err = env.store.GetRaw(ctx, "chain:main")
	require.NoError(t, err)
	require.NotNil(t, data)
	var ch domain.Chain
	require.NoError(t, json.Unmarshal(data, &ch))
	assert.Equal(t, "main", ch.Name, "map key is copied onto the chain")
	assert.Equal(t, []string{"in"}, ch.IngressLists)

	data, err = env.store.GetRaw(ctx, "config")
	require.NoError(t, err)
	assert.NotNil(t, data, "aggregate document is stored whole")
}

// A second Apply archives the previous aggregate under a timestamped key
// before overwriting it.
func TestDistributor_ApplyArchivesPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := env.distributor()
	archiveTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return archiveTime }

	first := testDocument()
	require.NoError(t, d.Apply(ctx, first))

	second := testDocument()
	second.Links["extra"] = domain.LinkDef{Type: "tag"}
	require.NoError(t, d.Apply(ctx, second))

	key := fmt.Sprintf("config:%d", archiveTime.Unix())
	data, err := env.store.GetRaw(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, data, "previous aggregate archived under %s", key)

	var archived config.Document
	require.NoError(t, json.Unmarshal(data, &archived))
	assert.NotContains(t, archived.Links, "extra", "archive holds the pre-update document")
}

func TestDistributor_ExportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d := env.distributor()
	doc := testDocument()
	require.NoError(t, d.Apply(ctx, doc))

	out, err := d.Export(ctx)
	require.NoError(t, err)

	assert.Equal(t, "tag", out.Links["tag_in"].Type)
	assert.Equal(t, "file", out.Storages["archive"].Type)

	ch, ok := out.Chains["main"]
	require.True(t, ok)
	assert.Equal(t, "main", ch.Name)
	assert.Equal(t, []string{"tag_in"}, ch.Links)
	assert.Equal(t, "out", ch.EgressList)
}

// A fake adapter records its start so StartAdapters can be exercised without
// a real listener.
type recordingAdapter struct {
	started chan struct{}
}

func (a *recordingAdapter) Start(ctx context.Context) error {
	close(a.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestDistributor_StartAdapters(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ra := &recordingAdapter{started: make(chan struct{})}
	adapters := adapter.NewRegistry(env.logger)
	adapters.Register("recording", func(name string, opts map[string]any) (domain.Adapter, error) {
		return ra, nil
	})
	d := NewDistributor(env.store, adapters, env.logger)

	doc := config.Defaults()
	doc.Adapters["hook"] = domain.AdapterDef{Type: "recording"}
	require.NoError(t, d.StartAdapters(ctx, doc))

	select {
	case <-ra.started:
	case <-time.After(2 * time.Second):
		t.Fatal("adapter was not started")
	}
}

func TestDistributor_StartAdaptersUnknownType(t *testing.T) {
	env := newTestEnv(t)

	d := env.distributor()
	doc := config.Defaults()
	doc.Adapters["hook"] = domain.AdapterDef{Type: "nope"}
	require.Error(t, d.StartAdapters(context.Background(), doc))
}
