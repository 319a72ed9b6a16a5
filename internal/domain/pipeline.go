package domain

// Chain is a named, ordered sequence of links plus its queue and storage
// bindings. Link order is fixed and determines execution order. A chain with
// no storages and no egress list is valid (side-effect-only).
type Chain struct {
	Name         string   `json:"name" yaml:"-"`
	Links        []string `json:"links" yaml:"links"`
	IngressLists []string `json:"ingress_lists" yaml:"ingress_lists"`
	EgressList   string   `json:"egress_list,omitempty" yaml:"egress_list,omitempty"`
	Storages     []string `json:"storages,omitempty" yaml:"storages,omitempty"`
	Workers      int      `json:"workers,omitempty" yaml:"workers,omitempty"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
}

// LinkDef binds a configured link name to a registered implementation and its
// options. Options are shallow-merged over the implementation's defaults at
// invocation time: a top-level key replaces the default wholesale, nested
// mappings are never merged.
type LinkDef struct {
	Type    string         `json:"type" yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// StorageDef binds a configured storage name to a registered backend.
type StorageDef struct {
	Type    string         `json:"type" yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// AdapterDef configures a long-running ingestion integration started at
// configuration load, distinct from a per-record link.
type AdapterDef struct {
	Type    string         `json:"type" yaml:"type"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// DLQPrefix derives a chain's dead-letter queue name from its ingress queue.
const DLQPrefix = "DLQ:"

// DLQName returns the dead-letter queue for an ingress queue.
func DLQName(ingress string) string {
	return DLQPrefix + ingress
}
