package store

import (
	"encoding/json"

	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// PutAccount upserts an account row, keyed by UserID. Per the UTXO model
// (spec §3), AccountContractID rotates on every mutation; the account row
// itself is replaced wholesale rather than versioned.
func (s *Store) PutAccount(a types.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return storeErr("marshal account", err)
	}
	return s.setDirect(keyAccount(a.UserID), data)
}

// PutAccountTx stages an account upsert within a transaction.
func (s *Store) PutAccountTx(tx *Tx, a types.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return storeErr("marshal account", err)
	}
	return tx.set(keyAccount(a.UserID), data)
}

// GetAccount fetches an account by user id.
func (s *Store) GetAccount(userID string) (types.Account, bool, error) {
	data, err := s.get(keyAccount(userID))
	if err != nil {
		return types.Account{}, false, err
	}
	if data == nil {
		return types.Account{}, false, nil
	}
	var a types.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return types.Account{}, false, storeErr("unmarshal account", err)
	}
	return a, true, nil
}

// ListAccounts returns every account row, used by the reconciler's
// stale-account sweep (spec §4.9).
func (s *Store) ListAccounts() ([]types.Account, error) {
	var out []types.Account
	err := s.scanPrefix([]byte(rowAccount), func(_, value []byte) error {
		var a types.Account
		if err := json.Unmarshal(value, &a); err != nil {
			return storeErr("unmarshal account", err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}
