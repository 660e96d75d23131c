package ledger

import (
	"context"
	"sync"

	"github.com/pebble-pm/pebble-exchange-core/pkg/idgen"
)

// Fake is a deterministic, in-memory Facade used by tests across the
// order saga, settlement engine, and reconciler, mirroring the UTXO
// contract-rotation semantics of spec §4.5/§4.6 without a network
// dependency. It is exported (not _test.go) so every package that needs
// a ledger test double can import it directly, the same role the
// teacher's exchange package fills for its own HTTP client in tests.
type Fake struct {
	mu        sync.Mutex
	contracts map[string]fakeContract
	// PartyOf extracts the owning party from a contract's payload so
	// GetActiveContracts can filter by party; tests override it per
	// template shape (e.g. payload["owner"] for TradingAccount,
	// payload["userId"] for Position).
	PartyOf func(templateID string, payload map[string]any) string
}

type fakeContract struct {
	templateID string
	payload    map[string]any
	archived   bool
}

// NewFake builds an empty fake ledger.
func NewFake() *Fake {
	return &Fake{
		contracts: make(map[string]fakeContract),
		PartyOf:   defaultPartyOf,
	}
}

func defaultPartyOf(_ string, payload map[string]any) string {
	for _, key := range []string{"owner", "userId", "party"} {
		if v, ok := payload[key].(string); ok {
			return v
		}
	}
	return ""
}

var _ Facade = (*Fake)(nil)

// Seed inserts a contract directly (bypassing SubmitCommand), for test
// setup — e.g. seeding a user's starting TradingAccount contract.
func (f *Fake) Seed(templateID, contractID string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[contractID] = fakeContract{templateID: templateID, payload: payload}
}

// SubmitCommand implements Facade. Each Create command mints a new
// contract; each Exercise command archives the target contract and
// mints a rotated successor whose payload is the prior payload with the
// command's Argument keys merged over it — enough to model balance/
// quantity mutations under UTXO rotation for tests.
func (f *Fake) SubmitCommand(_ context.Context, in SubmitCommandInput) (SubmitCommandOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var lastNewID string
	for _, cmd := range in.Commands {
		if cmd.Choice == "" {
			newID := idgen.New()
			f.contracts[newID] = fakeContract{templateID: cmd.TemplateID, payload: cmd.Argument}
			lastNewID = newID
			continue
		}

		prior, ok := f.contracts[cmd.ContractID]
		payload := map[string]any{}
		if ok {
			for k, v := range prior.payload {
				payload[k] = v
			}
			prior.archived = true
			f.contracts[cmd.ContractID] = prior
		}
		for k, v := range cmd.Argument {
			payload[k] = v
		}

		newID := idgen.New()
		f.contracts[newID] = fakeContract{templateID: cmd.TemplateID, payload: payload}
		lastNewID = newID
	}

	return SubmitCommandOutput{TransactionID: idgen.New(), NewContractID: lastNewID}, nil
}

// GetActiveContracts implements Facade.
func (f *Fake) GetActiveContracts(_ context.Context, templateID, party string) ([]ActiveContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []ActiveContract
	for id, c := range f.contracts {
		if c.archived || c.templateID != templateID {
			continue
		}
		if party != "" && f.PartyOf(templateID, c.payload) != party {
			continue
		}
		out = append(out, ActiveContract{ContractID: id, Payload: c.payload})
	}
	return out, nil
}

// GetContract implements Facade.
func (f *Fake) GetContract(_ context.Context, contractID, _ string) (*ActiveContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.contracts[contractID]
	if !ok || c.archived {
		return nil, nil
	}
	return &ActiveContract{ContractID: contractID, Payload: c.payload}, nil
}
