package adapter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Factory builds an adapter instance from its configured name and options.
type Factory func(name string, opts map[string]any) (domain.Adapter, error)

// Registry maps adapter implementation names to factories. Adapters differ
// from links and storages in that each configured entry gets its own
// long-running instance, so the registry holds constructors rather than
// shared implementations.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	r.logger.Debug("registered adapter", "type", name)
}

func (r *Registry) Build(name string, def domain.AdapterDef) (domain.Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[def.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter type: %s", def.Type)
	}
	return f(name, def.Options)
}
