package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vcon-dev/vcon-server-sub001/internal/adapter"
	"github.com/vcon-dev/vcon-server-sub001/internal/config"
	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

const (
	configKey        = "config"
	chainKeyPrefix   = "chain:"
	adapterKeyPrefix = "adapter:"
)

// Distributor writes the configuration document into the shared store under
// namespaced keys, archiving the previous aggregate first, and starts the
// configured adapters. It also supports the reverse direction: rebuilding a
// document from the stored definitions.
type Distributor struct {
	store    domain.RecordStore
	adapters *adapter.Registry
	logger   *slog.Logger

	now func() time.Time // swappable for tests
}

func NewDistributor(store domain.RecordStore, adapters *adapter.Registry, logger *slog.Logger) *Distributor {
	return &Distributor{
		store:    store,
		adapters: adapters,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply distributes a parsed document. The caller is responsible for having
// loaded and validated it; an unreadable or invalid source never reaches
// this point, so existing stored configuration stays intact on load failure.
func (d *Distributor) Apply(ctx context.Context, doc *config.Document) error {
	if err := d.archive(ctx); err != nil {
		return fmt.Errorf("archive previous config: %w", err)
	}

	full, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := d.store.SetRaw(ctx, configKey, full, 0); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	for name, def := range doc.Links {
		if err := d.setDef(ctx, linkKeyPrefix+name, def); err != nil {
			return err
		}
	}
	for name, def := range doc.Storages {
		if err := d.setDef(ctx, storageKeyPrefix+name, def); err != nil {
			return err
		}
	}
	for name, chain := range doc.Chains {
		chain.Name = name
		if err := d.setDef(ctx, chainKeyPrefix+name, chain); err != nil {
			return err
		}
	}
	for name, def := range doc.Adapters {
		if err := d.setDef(ctx, adapterKeyPrefix+name, def); err != nil {
			return err
		}
	}

	d.logger.Info("configuration distributed",
		"links", len(doc.Links), "storages", len(doc.Storages),
		"chains", len(doc.Chains), "adapters", len(doc.Adapters))
	return nil
}

// StartAdapters launches each configured adapter. Adapter goroutines run
// until ctx is cancelled; a failing adapter is logged and does not take the
// others down.
func (d *Distributor) StartAdapters(ctx context.Context, doc *config.Document) error {
	for name, def := range doc.Adapters {
		a, err := d.adapters.Build(name, def)
		if err != nil {
			return fmt.Errorf("adapter %s: %w", name, err)
		}
		go func(name string, a domain.Adapter) {
			if err := a.Start(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("adapter stopped", "adapter", name, "error", err)
			}
		}(name, a)
		d.logger.Info("adapter started", "adapter", name, "type", def.Type)
	}
	return nil
}

// archive snapshots the current aggregate config under a timestamped key so
// operators can recover prior versions.
func (d *Distributor) archive(ctx context.Context) error {
	prev, err := d.store.GetRaw(ctx, configKey)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	key := fmt.Sprintf("%s:%d", configKey, d.now().Unix())
	return d.store.SetRaw(ctx, key, prev, 0)
}

func (d *Distributor) setDef(ctx context.Context, key string, def any) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := d.store.SetRaw(ctx, key, data, 0); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Export reconstructs a configuration document from the namespaced
// definitions in the store, for external persistence.
func (d *Distributor) Export(ctx context.Context) (*config.Document, error) {
	doc := config.Defaults()

	if err := exportSet(ctx, d.store, linkKeyPrefix, func(name string, def domain.LinkDef) {
		doc.Links[name] = def
	}); err != nil {
		return nil, err
	}
	if err := exportSet(ctx, d.store, storageKeyPrefix, func(name string, def domain.StorageDef) {
		doc.Storages[name] = def
	}); err != nil {
		return nil, err
	}
	if err := exportSet(ctx, d.store, chainKeyPrefix, func(name string, chain domain.Chain) {
		chain.Name = name
		doc.Chains[name] = chain
	}); err != nil {
		return nil, err
	}
	if err := exportSet(ctx, d.store, adapterKeyPrefix, func(name string, def domain.AdapterDef) {
		doc.Adapters[name] = def
	}); err != nil {
		return nil, err
	}

	return doc, nil
}

func exportSet[T any](ctx context.Context, store domain.RecordStore, prefix string, put func(string, T)) error {
	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list %s keys: %w", prefix, err)
	}
	for _, key := range keys {
		data, err := store.GetRaw(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if data == nil {
			continue
		}
		var def T
		if err := json.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		put(strings.TrimPrefix(key, prefix), def)
	}
	return nil
}
