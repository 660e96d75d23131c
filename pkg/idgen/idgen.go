// Package idgen mints identifiers for the trading core: random ids for
// entities created on our side (trades, batches, positions, reconciliation
// rows), and deterministic digests for values that must be stable across
// retries (idempotency keys, ledger command ids).
//
// The teacher (0xtitan6-polymarket-mm) hashes EIP-712 typed data with
// go-ethereum's crypto package to produce the digest it signs
// (internal/exchange/auth.go, apitypes.TypedDataAndHash). This package
// reuses the same primitive, crypto.Keccak256Hash, for a much simpler
// purpose: turning a (userId, idempotencyKey) pair or an order id into a
// short, deterministic hex digest suitable as a ledger commandId.
package idgen

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// New mints a random identifier, used for entities this process originates
// (tradeId, batchId, positionId, proposalId, settlementEvent id).
func New() string {
	return uuid.NewString()
}

// CommandDigest derives a deterministic ledger commandId from the given
// parts, so resubmitting the same logical command (e.g. retrying a lock
// after a transient ledger error) produces the same idempotency token
// instead of minting a fresh one the ledger would treat as a new command.
func CommandDigest(parts ...string) string {
	var buf []byte
	for _, p := range parts {
		buf = append(buf, []byte(p)...)
		buf = append(buf, 0)
	}
	hash := crypto.Keccak256Hash(buf)
	return fmt.Sprintf("cmd_%x", hash.Bytes())
}
