package storage

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Registry maps backend implementation names to storage implementations,
// registered at process startup and resolved by the `type` field of a stored
// storage definition.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]domain.Storage
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[string]domain.Storage),
		logger:   logger,
	}
}

func (r *Registry) Register(name string, s domain.Storage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = s
	r.logger.Debug("registered storage backend", "type", name)
}

func (r *Registry) Get(name string) (domain.Storage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s (available: %v)", name, r.names())
	}
	return s, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	return names
}
