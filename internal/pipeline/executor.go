package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
	"github.com/vcon-dev/vcon-server-sub001/internal/link"
)

// Outcome is the final result of one chain execution attempt (or of the full
// retry cycle around it).
type Outcome int

const (
	// OutcomeCompleted: every link ran and forwarded; the record proceeds to
	// storage dispatch and the egress queue.
	OutcomeCompleted Outcome = iota + 1
	// OutcomeFiltered: a link deliberately halted propagation. Success, but
	// nothing is dispatched.
	OutcomeFiltered
	// OutcomeDeadLettered: retries were exhausted and the identifier was
	// pushed to the dead-letter queue. Terminal for this ingestion.
	OutcomeDeadLettered
	// OutcomeAborted: shutdown interrupted the retry cycle; the item is
	// abandoned without dispatch or dead-lettering.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

const linkKeyPrefix = "link:"

// Executor runs a chain's links in order against one record.
type Executor struct {
	store  domain.RecordStore
	links  *link.Registry
	logger *slog.Logger
}

func NewExecutor(store domain.RecordStore, links *link.Registry, logger *slog.Logger) *Executor {
	return &Executor{store: store, links: links, logger: logger}
}

// Execute runs each link in chain order. A link returning an empty
// identifier stops the chain as a successful filtered outcome; a link error
// stops the chain with no partial continuation. On success the returned
// identifier is the one the last link forwarded.
func (e *Executor) Execute(ctx context.Context, chain domain.Chain, recordID string) (string, Outcome, error) {
	id := recordID
	for _, name := range chain.Links {
		def, err := e.linkDef(ctx, name)
		if err != nil {
			return "", 0, fmt.Errorf("chain %s: %w", chain.Name, err)
		}

		impl, err := e.links.Get(def.Type)
		if err != nil {
			return "", 0, fmt.Errorf("chain %s: link %s: %w", chain.Name, name, err)
		}

		opts := def.Options
		if d, ok := impl.(domain.LinkDefaulter); ok {
			opts = link.MergeOptions(d.Defaults(), def.Options)
		}

		forwarded, err := impl.Run(ctx, id, name, opts)
		if err != nil {
			return "", 0, fmt.Errorf("chain %s: link %s: %w", chain.Name, name, err)
		}
		if forwarded == "" {
			e.logger.Debug("chain stopped by link", "chain", chain.Name, "link", name, "uuid", id)
			return "", OutcomeFiltered, nil
		}
		id = forwarded
	}
	return id, OutcomeCompleted, nil
}

// linkDef resolves the stored definition for a configured link name.
func (e *Executor) linkDef(ctx context.Context, name string) (*domain.LinkDef, error) {
	data, err := e.store.GetRaw(ctx, linkKeyPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("link %s: load definition: %w", name, err)
	}
	if data == nil {
		return nil, fmt.Errorf("link %s: no stored definition", name)
	}
	var def domain.LinkDef
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("link %s: corrupt definition: %w", name, err)
	}
	return &def, nil
}
