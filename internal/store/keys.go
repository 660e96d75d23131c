package store

import "fmt"

// Key schema (mirrors uhyunpark-hyperlicked/pkg/storage/account_keys.go's
// prefix-scan design): every row is a primary record under a "<type>:row:"
// prefix, plus zero or more secondary-index rows under "<type>:idx:..."
// that map a lookup key to the primary key, so callers can scan by user,
// market, status, idempotency key, or settlement association without a
// full table scan. No primary or index prefix is itself a prefix of
// another, so a primary-row scan never picks up index rows.
const (
	rowMarket  = "market:row:"
	rowAccount = "account:row:"

	rowPosition  = "position:row:"
	idxPosition  = "position:idx:user:"

	rowOrder     = "order:row:"
	idxOrderUser   = "order:idx:user:"
	idxOrderMarket = "order:idx:market:"
	idxOrderStatus = "order:idx:status:"
	idxOrderIdem   = "order:idx:idem:"

	rowTrade     = "trade:row:"
	idxTradeStatus = "trade:idx:status:"
	idxTradeOrder  = "trade:idx:order:"

	rowBatch     = "batch:row:"
	idxBatchStatus = "batch:idx:status:"
	rowBatchTrade  = "batchtrade:row:"

	rowEvent     = "event:row:"
	idxEventSettlement = "event:idx:settlement:"

	rowRecon    = "recon:row:"
	rowCompFail = "compfail:row:"
)

func keyMarket(id string) []byte  { return []byte(rowMarket + id) }
func keyAccount(id string) []byte { return []byte(rowAccount + id) }

func keyPosition(id string) []byte { return []byte(rowPosition + id) }
func keyPositionIdx(userID, marketID, side string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", idxPosition, userID, marketID, side))
}

func keyOrder(id string) []byte { return []byte(rowOrder + id) }
func keyOrderIdxUser(userID, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxOrderUser, userID, orderID))
}
func keyOrderIdxMarket(marketID, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxOrderMarket, marketID, orderID))
}
func keyOrderIdxStatus(status, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxOrderStatus, status, orderID))
}
func keyOrderIdxIdempotency(userID, idemKey string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxOrderIdem, userID, idemKey))
}

func keyTrade(id string) []byte { return []byte(rowTrade + id) }
func keyTradeIdxStatus(status, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxTradeStatus, status, tradeID))
}
func keyTradeIdxOrder(orderID, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxTradeOrder, orderID, tradeID))
}

func keyBatch(id string) []byte { return []byte(rowBatch + id) }
func keyBatchIdxStatus(status, batchID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxBatchStatus, status, batchID))
}
func keyBatchTrade(batchID, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", rowBatchTrade, batchID, tradeID))
}

func keyEvent(id string) []byte { return []byte(rowEvent + id) }
func keyEventIdxSettlement(settlementID, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", idxEventSettlement, settlementID, id))
}

func keyRecon(id string) []byte    { return []byte(rowRecon + id) }
func keyCompFail(id string) []byte { return []byte(rowCompFail + id) }

// upperBound returns the exclusive upper bound for a prefix scan.
func upperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff, unbounded
}
