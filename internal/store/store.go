// Package store provides durable persistence for markets, orders, trades,
// accounts, positions, settlement batches, settlement events, and audit
// rows, backed by a pebble LSM-tree.
//
// The teacher (0xtitan6-polymarket-mm) persists positions as one JSON file
// per market with atomic rename-over-write — crash-safe, but unable to
// update more than one row atomically. This core needs true multi-row
// transactions (creating a batch and its trade associations together,
// bulk-updating trade settlement status, reducing a position's quantity
// and locked-quantity together), so the storage engine is adapted from
// uhyunpark-hyperlicked/pkg/storage/pebble_store.go instead: a pebble.Batch
// gives us exactly that atomicity, with the same key-prefix schema
// (account_keys.go) generalized to this domain's nine entity types.
package store

import (
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// Store is the durable persistence layer. Storage-engine and codec failures
// surface to callers as a *types.KindError of kind types.ErrStore (spec
// §4.2); ReducePosition and ResolveCompensationFailure also report a
// missing row or a violated position invariant under their own kinds.
type Store struct {
	db     *pebble.DB
	logger *zap.Logger
}

// Open opens (creating if absent) a pebble store at dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, storeErr("open", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return storeErr("close", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return types.WrapError(types.ErrStore, "store."+op, err)
}

// Tx is an atomic multi-statement transaction. Callers stage puts/deletes
// via the Store methods that accept a *Tx, then call Commit. A Tx that is
// never committed has no effect once it goes out of scope.
type Tx struct {
	batch *pebble.Batch
}

// NewTx begins a new atomic transaction.
func (s *Store) NewTx() *Tx {
	return &Tx{batch: s.db.NewBatch()}
}

// Commit applies every staged write atomically.
func (t *Tx) Commit() error {
	if err := t.batch.Commit(pebble.Sync); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// Close releases the batch's resources without committing; safe to call
// after Commit or on an early-return error path.
func (t *Tx) Close() error {
	return t.batch.Close()
}

func (t *Tx) set(key, value []byte) error {
	if err := t.batch.Set(key, value, nil); err != nil {
		return storeErr("set", err)
	}
	return nil
}

func (t *Tx) delete(key []byte) error {
	if err := t.batch.Delete(key, nil); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		return nil, storeErr("get", err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	closer.Close()
	return out, nil
}

func (s *Store) setDirect(key, value []byte) error {
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return storeErr("set", err)
	}
	return nil
}

func (s *Store) deleteDirect(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

// scanPrefix iterates every key with the given prefix, invoking fn with
// each value. Iteration stops early if fn returns an error.
func (s *Store) scanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return storeErr("scan", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return storeErr("scan", err)
	}
	return nil
}
