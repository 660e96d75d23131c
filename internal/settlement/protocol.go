package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pebble-pm/pebble-exchange-core/internal/ledger"
	"github.com/pebble-pm/pebble-exchange-core/pkg/types"
)

// proposeStage implements spec §4.8 stage 1: for each trade, submit
// CreateSettlementProposal and record the new proposal contract id.
func (e *Engine) proposeStage(ctx context.Context, batch types.SettlementBatch, trades []types.Trade) (map[string]*proposalState, error) {
	batch.Status = types.BatchProposing
	if err := e.store.UpdateBatch(batch); err != nil {
		return nil, err
	}

	states := make(map[string]*proposalState, len(trades))
	for _, t := range trades {
		market, _, err := e.store.GetMarket(t.MarketID)
		if err != nil {
			return nil, types.WrapError(types.ErrStore, "load market for proposal", err)
		}

		proposalID := e.idGen()
		arg := map[string]any{
			"buyer":            t.BuyerID,
			"seller":           t.SellerID,
			"marketId":         t.MarketID,
			"side":             ledger.WireSide(string(t.Side)),
			"quantity":         t.Quantity.String(),
			"price":            t.Price.String(),
			"proposalId":       proposalID,
			"tradeType":        string(t.TradeType),
			"marketContractId": market.LedgerContractID,
		}
		if t.TradeType == types.TradeTypeShareCreation {
			if pos, ok, perr := e.store.GetActivePosition(t.SellerID, t.MarketID, types.SideNo); perr == nil && ok {
				arg["sellerPositionLockedQuantity"] = pos.LockedQuantity.String()
			}
		}

		out, err := e.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
			UserID:    e.cfg.PebbleAdminParty,
			CommandID: fmt.Sprintf("proposal_%s", proposalID),
			ActAs:     []string{e.cfg.PebbleAdminParty},
			Commands: []ledger.Command{{
				TemplateID: ledger.TemplateSettlementProposal,
				Choice:     ledger.ChoiceCreateSettlementProposal,
				Argument:   arg,
			}},
		})
		if err != nil {
			return nil, types.WrapError(types.ErrLedger, "create settlement proposal", err)
		}

		st := &proposalState{ProposalID: proposalID, ProposalContractID: out.NewContractID}
		states[t.TradeID] = st
		e.appendEvent(st.ProposalContractID, proposalID, out.TransactionID, "proposal_created")
	}
	return states, nil
}

// acceptStage implements spec §4.8 stage 2: strictly sequential per trade,
// BuyerAccept then SellerAccept, yielding a Settlement contract id.
func (e *Engine) acceptStage(ctx context.Context, batch types.SettlementBatch, trades []types.Trade, states map[string]*proposalState) error {
	batch.Status = types.BatchAccepting
	if err := e.store.UpdateBatch(batch); err != nil {
		return err
	}

	for _, t := range trades {
		st := states[t.TradeID]

		buyerOut, err := e.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
			UserID:    t.BuyerID,
			CommandID: fmt.Sprintf("buyeraccept_%s", st.ProposalID),
			ActAs:     []string{t.BuyerID, e.cfg.PebbleAdminParty},
			Commands: []ledger.Command{{
				TemplateID: ledger.TemplateSettlementProposal,
				ContractID: st.ProposalContractID,
				Choice:     ledger.ChoiceBuyerAccept,
				Argument:   map[string]any{"proposalId": st.ProposalID},
			}},
		})
		if err != nil {
			return types.WrapError(types.ErrLedger, "buyer accept", err)
		}
		e.appendEvent(buyerOut.NewContractID, st.ProposalID, buyerOut.TransactionID, "buyer_accepted")
		st.ProposalContractID = buyerOut.NewContractID // now a SettlementProposalAccepted cid

		sellerOut, err := e.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
			UserID:    t.SellerID,
			CommandID: fmt.Sprintf("selleraccept_%s", st.ProposalID),
			ActAs:     []string{t.SellerID, e.cfg.PebbleAdminParty},
			Commands: []ledger.Command{{
				TemplateID: ledger.TemplateSettlementProposalAccepted,
				ContractID: st.ProposalContractID,
				Choice:     ledger.ChoiceSellerAccept,
				Argument:   map[string]any{"proposalId": st.ProposalID},
			}},
		})
		if err != nil {
			return types.WrapError(types.ErrLedger, "seller accept", err)
		}
		e.appendEvent(sellerOut.NewContractID, st.ProposalID, sellerOut.TransactionID, "seller_accepted")
		st.SettlementContractID = sellerOut.NewContractID
	}
	return nil
}

// executeStage implements spec §4.8 stage 3: partition the batch into
// contention-free rounds and execute each, waiting roundDelayMs between
// rounds so the ledger observes the previous round's new contract ids.
func (e *Engine) executeStage(ctx context.Context, batch types.SettlementBatch, trades []types.Trade, states map[string]*proposalState) error {
	batch.Status = types.BatchExecuting
	if err := e.store.UpdateBatch(batch); err != nil {
		return err
	}

	rounds := partitionRounds(trades)
	for i, round := range rounds {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.RoundDelay):
			}
		}
		if err := e.executeRound(ctx, batch, round, states, i); err != nil {
			return err
		}
	}
	return nil
}

// partitionRounds implements spec §4.8's round partitioning: repeatedly
// take the earliest still-unassigned trade into the current round,
// continuing to add subsequent trades whose buyer and seller appear in
// neither the current round's user set. A user therefore appears at most
// once per round; at least one trade is added per round, so this
// terminates in at most |trades| rounds.
func partitionRounds(trades []types.Trade) [][]types.Trade {
	remaining := append([]types.Trade(nil), trades...)
	var rounds [][]types.Trade
	for len(remaining) > 0 {
		users := make(map[string]struct{})
		var round, next []types.Trade
		for _, t := range remaining {
			_, buyerBusy := users[t.BuyerID]
			_, sellerBusy := users[t.SellerID]
			if !buyerBusy && !sellerBusy {
				round = append(round, t)
				users[t.BuyerID] = struct{}{}
				users[t.SellerID] = struct{}{}
			} else {
				next = append(next, t)
			}
		}
		if len(round) == 0 {
			// Every trade pairs a distinct buyer and seller, so the first
			// scan of a non-empty remaining set always admits at least
			// one trade; reaching here means that invariant broke.
			panic("settlement: round partition made no progress")
		}
		rounds = append(rounds, round)
		remaining = next
	}
	return rounds
}

// executeRound resolves each trade's current account/position contract
// ids (spec §4.8 "Per-execution contract resolution") and makes one
// submitCommand call carrying an ExecuteSettlement command for each trade
// in the round.
func (e *Engine) executeRound(ctx context.Context, batch types.SettlementBatch, round []types.Trade, states map[string]*proposalState, roundIdx int) error {
	var cmds []ledger.Command
	users := make(map[string]struct{})

	for _, t := range round {
		st := states[t.TradeID]

		buyerAccountCid, err := e.resolveAccountContract(ctx, t.BuyerID)
		if err != nil {
			return types.WrapError(types.ErrLedger, "resolve buyer account contract", err)
		}
		sellerAccountCid, err := e.resolveAccountContract(ctx, t.SellerID)
		if err != nil {
			return types.WrapError(types.ErrLedger, "resolve seller account contract", err)
		}

		buyerSide, sellerSide := t.Side, t.Side
		if t.TradeType == types.TradeTypeShareCreation {
			buyerSide, sellerSide = types.SideYes, types.SideNo
		}
		buyerPositionCid, _ := e.resolvePositionContract(ctx, t.BuyerID, t.MarketID, buyerSide)
		sellerPositionCid, _ := e.resolvePositionContract(ctx, t.SellerID, t.MarketID, sellerSide)

		arg := map[string]any{
			"buyerAccountCid":  buyerAccountCid,
			"sellerAccountCid": sellerAccountCid,
		}
		if buyerPositionCid != "" {
			arg["buyerPositionCid"] = buyerPositionCid
		}
		if sellerPositionCid != "" {
			arg["sellerPositionCid"] = sellerPositionCid
		}

		cmds = append(cmds, ledger.Command{
			TemplateID: ledger.TemplateSettlement,
			ContractID: st.SettlementContractID,
			Choice:     ledger.ChoiceExecuteSettlement,
			Argument:   arg,
		})
		users[t.BuyerID] = struct{}{}
		users[t.SellerID] = struct{}{}
	}

	actAs := make([]string, 0, len(users)+1)
	actAs = append(actAs, e.cfg.PebbleAdminParty)
	for u := range users {
		actAs = append(actAs, u)
	}

	out, err := e.ledger.SubmitCommand(ctx, ledger.SubmitCommandInput{
		UserID:    e.cfg.PebbleAdminParty,
		CommandID: fmt.Sprintf("execute_%s_round%d", batch.BatchID, roundIdx),
		ActAs:     actAs,
		Commands:  cmds,
	})
	if err != nil {
		return types.WrapError(types.ErrLedger, "execute settlement round", err)
	}

	for _, t := range round {
		st := states[t.TradeID]
		e.appendEvent(st.SettlementContractID, st.ProposalID, out.TransactionID, "executed")
	}
	return nil
}

// resolveAccountContract queries the freshest TradingAccount contract for
// a party, making up to three attempts with linear backoff (spec §4.8
// "Per-execution contract resolution").
func (e *Engine) resolveAccountContract(ctx context.Context, partyID string) (string, error) {
	return e.resolveWithRetry(ctx, func() (string, error) {
		contracts, err := e.ledger.GetActiveContracts(ctx, ledger.TemplateTradingAccount, partyID)
		if err != nil {
			return "", err
		}
		if len(contracts) == 0 {
			return "", fmt.Errorf("no active TradingAccount contract for %s", partyID)
		}
		return contracts[0].ContractID, nil
	})
}

// resolvePositionContract queries the freshest Position contract for a
// (party, market, side), retrying as above. A missing position is not an
// error: the buyer side of a share creation may not have held a position
// before this trade, in which case the ledger mints one fresh.
func (e *Engine) resolvePositionContract(ctx context.Context, partyID, marketID string, side types.Side) (string, error) {
	return e.resolveWithRetry(ctx, func() (string, error) {
		contracts, err := e.ledger.GetActiveContracts(ctx, ledger.TemplatePosition, partyID)
		if err != nil {
			return "", err
		}
		for _, c := range contracts {
			if mkt, _ := c.Payload["marketId"].(string); mkt != marketID {
				continue
			}
			if sd, _ := c.Payload["side"].(string); ledger.InternalSide(sd) == string(side) {
				return c.ContractID, nil
			}
		}
		return "", nil
	})
}

func (e *Engine) resolveWithRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	const attempts = 3
	var lastErr error
	for i := 1; i <= attempts; i++ {
		cid, err := fn()
		if err == nil {
			return cid, nil
		}
		lastErr = err
		if i < attempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(i) * 100 * time.Millisecond):
			}
		}
	}
	return "", lastErr
}

func (e *Engine) appendEvent(contractID, settlementID, txID, status string) {
	ev := types.SettlementEvent{
		ID:            e.idGen(),
		ContractID:    contractID,
		SettlementID:  settlementID,
		TransactionID: txID,
		Status:        status,
		Timestamp:     e.nowTime(),
	}
	if err := e.store.AppendSettlementEvent(ev); err != nil {
		e.logger.Error("append settlement event", zap.Error(err))
	}
}
