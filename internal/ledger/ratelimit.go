// ratelimit.go implements token-bucket rate limiting for the ledger
// gateway's RPCs.
//
// Adapted from the teacher's internal/exchange/ratelimit.go, which rate
// limited Polymarket's CLOB REST endpoints. The token-bucket mechanism is
// unchanged; the bucket categories are regrouped around this façade's two
// RPC shapes instead of the CLOB's order/cancel/book split: Submit guards
// submitCommand (the mutating RPC a misbehaving saga or settlement retry
// loop could otherwise hammer), Query guards getActiveContracts/getContract.
package ledger

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a token-bucket rate limiter with continuous refill.
// Callers block in wait() until a token is available or the context is
// cancelled.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

func newTokenBucket(capacity, ratePerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

func (tb *tokenBucket) wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// rateLimiter groups the ledger client's token buckets by RPC category.
type rateLimiter struct {
	submit *tokenBucket
	query  *tokenBucket
}

// newRateLimiter builds the client's default rate limits: 50 submitCommand
// calls/sec (350 burst) and 100 query calls/sec (500 burst), generous
// enough not to throttle a single-writer saga under normal load while
// still bounding a retry storm against the gateway.
func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		submit: newTokenBucket(350, 50),
		query:  newTokenBucket(500, 100),
	}
}
