package link

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// Registry maps stable implementation names to link implementations. All
// implementations are registered at process startup; the executor resolves
// them by the `type` field of a stored link definition.
type Registry struct {
	mu     sync.RWMutex
	links  map[string]domain.Link
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		links:  make(map[string]domain.Link),
		logger: logger,
	}
}

func (r *Registry) Register(name string, l domain.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[name] = l
	r.logger.Debug("registered link", "type", name)
}

func (r *Registry) Get(name string) (domain.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[name]
	if !ok {
		return nil, fmt.Errorf("unknown link type: %s (available: %v)", name, r.names())
	}
	return l, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.links))
	for n := range r.links {
		names = append(names, n)
	}
	return names
}

// MergeOptions lays explicit options over defaults key by key. The merge is
// deliberately shallow: a top-level key replaces the default value wholesale,
// nested mappings are never merged, since link authors rely on whole-subtree
// replacement.
func MergeOptions(defaults, opts map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(opts))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range opts {
		merged[k] = v
	}
	return merged
}

// OptString reads a string option, tolerating absent keys.
func OptString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	if s, ok := opts[key].(string); ok {
		return s
	}
	return ""
}

// OptStrings reads a string-list option; YAML decoding yields []any.
func OptStrings(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
