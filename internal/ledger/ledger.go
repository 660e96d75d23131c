// Package ledger is the façade over the external UTXO-style ledger the
// core settles onto (spec §4.5/§6). It exposes exactly the two RPCs the
// core needs — submitCommand and getActiveContracts — plus a getContract
// convenience wrapper, and an event-stream subscription that feeds the
// projection folder (C6).
//
// The wire vocabulary (actAs/readAs, template ids, exercise choices,
// contract id rotation on every mutation) is Daml/Canton-shaped, not an
// EVM chain's: the core never signs or submits an Ethereum transaction.
// go-ethereum is kept in this module only for pkg/idgen's Keccak256
// digest, not for any ledger RPC here.
package ledger

import (
	"context"
	"strings"
)

// Template ids the core's commands target (spec §6).
const (
	TemplateTradingAccount             = "TradingAccount"
	TemplatePosition                   = "Position"
	TemplateSettlementProposal         = "SettlementProposal"
	TemplateSettlementProposalAccepted = "SettlementProposalAccepted"
	TemplateSettlement                 = "Settlement"
)

// Choice names used by the settlement protocol and the order saga
// (spec §4.5, §4.7, §4.8).
const (
	ChoiceLockFunds                = "LockFunds"
	ChoiceUnlockFunds              = "UnlockFunds"
	ChoiceLockPosition             = "LockPosition"
	ChoiceUnlockPosition           = "UnlockPosition"
	ChoiceCreateSettlementProposal = "CreateSettlementProposal"
	ChoiceBuyerAccept              = "BuyerAccept"
	ChoiceSellerAccept             = "SellerAccept"
	ChoiceExecuteSettlement        = "ExecuteSettlement"
)

// Command is one step of a submitCommand call: either a Create of a new
// contract, or an Exercise of a choice on an existing one.
type Command struct {
	TemplateID string
	ContractID string         // required for Exercise; empty for Create
	Choice     string         // required for Exercise; empty for Create
	Argument   map[string]any // choice/create argument payload
}

// SubmitCommandInput is the request shape of spec §4.5/§6's submitCommand.
type SubmitCommandInput struct {
	UserID    string // client identifier, for logging/correlation only
	CommandID string // caller-generated idempotency token
	ActAs     []string
	ReadAs    []string
	Commands  []Command
}

// SubmitCommandOutput is submitCommand's response. NewContractID is set
// when the command created or rotated exactly one contract the caller
// cares about (the common case for this core's single-command submits);
// for multi-command submits such as ExecuteSettlement rounds it names at
// most one of the contracts created (the Fake reports the last one), so
// callers re-query via GetActiveContracts instead.
type SubmitCommandOutput struct {
	TransactionID string
	NewContractID string
}

// ActiveContract is one row of a getActiveContracts response.
type ActiveContract struct {
	ContractID string
	Payload    map[string]any
}

// WireSide translates an internal lower-case side ("yes"/"no") into the
// ledger wire protocol's upper-case form (spec §6).
func WireSide(side string) string {
	return strings.ToUpper(side)
}

// InternalSide translates a ledger wire-protocol side back into this
// core's lower-case internal form.
func InternalSide(wireSide string) string {
	return strings.ToLower(wireSide)
}

// Facade is the abstract interface to the external ledger (spec §4.5).
// Components depend on this interface, never on a concrete transport, so
// tests substitute a deterministic in-memory fake.
type Facade interface {
	SubmitCommand(ctx context.Context, in SubmitCommandInput) (SubmitCommandOutput, error)
	GetActiveContracts(ctx context.Context, templateID, party string) ([]ActiveContract, error)
	GetContract(ctx context.Context, contractID, party string) (*ActiveContract, error)
}
