// Package projection folds the ledger's event stream into C2 so that
// local account and position rows track authoritative on-chain state
// (spec §4.6). Folding is idempotent by contract id: replaying the same
// event sequence yields identical store state, and unknown archive
// events are no-ops — properties every handler here preserves.
//
// Grounded on the teacher's internal/store/store.go SavePosition, which
// overwrites a position file wholesale on every write; that
// replace-by-key idiom generalizes directly to "replace the account/
// position row for this contract id" once the store is the real
// multi-row C2 store instead of one JSON file per market.
package projection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/internal/store"
)

// Folder consumes ledger.Events and applies them to the store.
type Folder struct {
	store  *store.Store
	idGen  func() string
	logger *zap.Logger
}

// New builds a Folder.
func New(st *store.Store, idGen func() string, logger *zap.Logger) *Folder {
	return &Folder{store: st, idGen: idGen, logger: logger.With(zap.String("component", "projection"))}
}

// Run drains events from the stream until ctx is cancelled, applying each
// one and logging (never aborting on) handler errors — a bad event must
// not stop the fold of subsequent, unrelated events.
func (f *Folder) Run(ctx context.Context, events <-chan ledger.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := f.Apply(ctx, ev); err != nil {
				f.logger.Error("failed to apply ledger event",
					zap.String("templateId", ev.TemplateID),
					zap.String("contractId", ev.ContractID),
					zap.Error(err))
			}
		}
	}
}

// Apply folds a single ledger event into the store. Unknown template ids
// are no-ops, not errors — the core only projects the templates it owns.
func (f *Folder) Apply(_ context.Context, ev ledger.Event) error {
	switch ev.TemplateID {
	case ledger.TemplateTradingAccount:
		return f.applyAccountEvent(ev)
	case ledger.TemplatePosition:
		return f.applyPositionEvent(ev)
	default:
		return nil
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
