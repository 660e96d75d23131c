package orderservice

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/pkg/money"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// refreshAccountContract implements the "stale-contract handling" rule
// of spec §4.7: before any exercise, query the ledger for the live
// contract id for this party, and update the stored row if it differs
// (the UTXO model rotates the id on every mutation, so a row persisted
// before a concurrent mutation elsewhere would otherwise hold a dead id).
func (s *Service) refreshAccountContract(ctx context.Context, account types.Account) (types.Account, error) {
	contracts, err := s.ledger.GetActiveContracts(ctx, ledger.TemplateTradingAccount, account.PartyID)
	if err != nil {
		return account, types.WrapError(types.ErrLedger, "query active account contracts", err)
	}
	if len(contracts) == 0 {
		return account, nil
	}
	live := contracts[0].ContractID
	if live != account.AccountContractID {
		account.AccountContractID = live
		if err := s.store.PutAccount(account); err != nil {
			return account, types.WrapError(types.ErrStore, "persist refreshed account contract", err)
		}
	}
	return account, nil
}

func (s *Service) refreshPositionContract(ctx context.Context, pos types.Position, contractID string) (string, error) {
	contracts, err := s.ledger.GetActiveContracts(ctx, ledger.TemplatePosition, pos.UserID)
	if err != nil {
		return contractID, types.WrapError(types.ErrLedger, "query active position contracts", err)
	}
	for _, c := range contracts {
		if marketID, _ := c.Payload["marketId"].(string); marketID == pos.MarketID {
			if side, _ := c.Payload["side"].(string); side == ledger.WireSide(string(pos.Side)) {
				return c.ContractID, nil
			}
		}
	}
	return contractID, nil
}

// lockFunds exercises LockFunds on the freshest account contract and
// returns the rotated contract id plus the ledger transaction id
// (spec §4.7 step 3).
func (s *Service) lockFunds(ctx context.Context, account types.Account, orderID string, amount money.Decimal) (newContractID, txID string, err error) {
	account, err = s.refreshAccountContract(ctx, account)
	if err != nil {
		return "", "", err
	}

	out, err := s.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
		UserID:    account.UserID,
		CommandID: fmt.Sprintf("lockfunds_%s", orderID),
		ActAs:     []string{account.PartyID},
		Commands: []ledger.Command{{
			TemplateID: ledger.TemplateTradingAccount,
			ContractID: account.AccountContractID,
			Choice:     ledger.ChoiceLockFunds,
			Argument: map[string]any{
				"amount":           amount.String(),
				"orderId":          orderID,
				"availableBalance": account.AvailableBalance.Sub(amount).String(),
				"lockedBalance":    account.LockedBalance.Add(amount).String(),
				"owner":            account.UserID,
			},
		}},
	})
	if err != nil {
		return "", "", types.WrapError(types.ErrLedger, "lock funds", err)
	}
	return out.NewContractID, out.TransactionID, nil
}

// unlockFunds is the compensation for lockFunds on a later saga failure,
// or the refund path for market-buy overpayment (spec §4.7 step 6).
func (s *Service) unlockFunds(ctx context.Context, userID, partyID, contractID, orderID string, amount money.Decimal) (newContractID string, err error) {
	out, err := s.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
		UserID:    userID,
		CommandID: fmt.Sprintf("unlockfunds_%s_%s", orderID, contractID),
		ActAs:     []string{partyID},
		Commands: []ledger.Command{{
			TemplateID: ledger.TemplateTradingAccount,
			ContractID: contractID,
			Choice:     ledger.ChoiceUnlockFunds,
			Argument: map[string]any{
				"amount":  amount.String(),
				"orderId": orderID,
			},
		}},
	})
	if err != nil {
		return "", types.WrapError(types.ErrLedger, "unlock funds", err)
	}
	return out.NewContractID, nil
}

// lockPosition exercises LockPosition on the position contract.
func (s *Service) lockPosition(ctx context.Context, pos types.Position, orderID string, qty money.Decimal) (newContractID, txID string, err error) {
	contractID, err := s.refreshPositionContract(ctx, pos, pos.PositionID)
	if err != nil {
		return "", "", err
	}

	out, err := s.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
		UserID:    pos.UserID,
		CommandID: fmt.Sprintf("lockposition_%s", orderID),
		ActAs:     []string{pos.UserID},
		Commands: []ledger.Command{{
			TemplateID: ledger.TemplatePosition,
			ContractID: contractID,
			Choice:     ledger.ChoiceLockPosition,
			Argument: map[string]any{
				"lockQuantity":   qty.String(),
				"orderId":        orderID,
				"quantity":       pos.Quantity.String(),
				"lockedQuantity": pos.LockedQuantity.Add(qty).String(),
				"userId":         pos.UserID,
				"marketId":       pos.MarketID,
				"side":           ledger.WireSide(string(pos.Side)),
			},
		}},
	})
	if err != nil {
		return "", "", types.WrapError(types.ErrLedger, "lock position", err)
	}
	return out.NewContractID, out.TransactionID, nil
}

// unlockPosition is the compensation for lockPosition, used on saga
// failure and on cancellation/residual-unlock (spec §4.7 steps 3, 7).
func (s *Service) unlockPosition(ctx context.Context, userID, contractID, orderID string, qty money.Decimal) (newContractID string, err error) {
	out, err := s.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
		UserID:    userID,
		CommandID: fmt.Sprintf("unlockposition_%s_%s", orderID, contractID),
		ActAs:     []string{userID},
		Commands: []ledger.Command{{
			TemplateID: ledger.TemplatePosition,
			ContractID: contractID,
			Choice:     ledger.ChoiceUnlockPosition,
			Argument: map[string]any{
				"unlockQuantity": qty.String(),
				"orderId":        orderID,
			},
		}},
	})
	if err != nil {
		return "", types.WrapError(types.ErrLedger, "unlock position", err)
	}
	return out.NewContractID, nil
}

// resolveLockContract looks up the freshest ledger contract id backing an
// order's lock, for use at cancellation time. place.go persists only the
// lock's transaction id on the order (LedgerLockTxID), not the rotated
// contract id, so cancellation cannot replay that field directly; it must
// re-resolve the live contract the same way lockFunds/lockPosition do.
func (s *Service) resolveLockContract(ctx context.Context, order types.Order) (string, error) {
	if order.Action == types.ActionBuy {
		account, ok, err := s.store.GetAccount(order.UserID)
		if err != nil {
			return "", types.WrapError(types.ErrStore, "load account for cancel unlock", err)
		}
		if !ok {
			return "", types.NewError(types.ErrAccountNotFound, "account not found: "+order.UserID)
		}
		account, err = s.refreshAccountContract(ctx, account)
		if err != nil {
			return "", err
		}
		return account.AccountContractID, nil
	}

	pos, ok, err := s.store.GetActivePosition(order.UserID, order.MarketID, order.Side)
	if err != nil {
		return "", types.WrapError(types.ErrStore, "load position for cancel unlock", err)
	}
	if !ok {
		return "", types.NewError(types.ErrNoPosition, "position not found: "+order.UserID)
	}
	return s.refreshPositionContract(ctx, pos, pos.PositionID)
}

// recordCompensationFailure persists a CompensationFailure row for manual
// reconciliation, per spec §7: compensation steps that themselves fail
// must never crash the saga.
func (s *Service) recordCompensationFailure(orderID, userID, accountCID string, amount money.Decimal, cause error) {
	cf := types.CompensationFailure{
		ID:         s.idGen(),
		OrderID:    orderID,
		UserID:     userID,
		Amount:     amount,
		AccountCID: accountCID,
		Error:      cause.Error(),
		Timestamp:  s.nowTime(),
	}
	if err := s.store.AppendCompensationFailure(cf); err != nil {
		s.logger.Error("failed to record compensation failure", zap.Error(err))
	}
}
