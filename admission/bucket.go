// Copyright 2025 The Gatekit Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package admission

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gatekit/gatekit/util/clock"
)

// pollInterval is the upper bound on how long AllowFor sleeps between
// attempts to take a token. Keeping it short bounds the overshoot past the
// instant a token actually becomes available.
const pollInterval = 10 * time.Millisecond

// TokenBucket is a QPS limiter. It holds up to capacity tokens and accrues
// them continuously at qps tokens per second; admitting a request consumes
// one token. A qps of zero (or less) disables the limit entirely.
//
// All methods are safe for concurrent use. None of them sleeps while holding
// the bucket's lock; AllowFor releases it between poll attempts.
type TokenBucket struct {
	ts clock.TimeSource

	mu       sync.Mutex
	qps      float64
	capacity float64
	tokens   float64
	last     time.Time

	total    uint64
	allowed  uint64
	rejected uint64
}

// NewTokenBucket creates a full bucket admitting qps requests per second
// with bursts of up to burst. A qps <= 0 means unlimited. A burst <= 0
// defaults to max(1, round(qps)). A nil ts uses system time.
func NewTokenBucket(qps float64, burst int, ts clock.TimeSource) *TokenBucket {
	if ts == nil {
		ts = clock.System
	}
	if qps < 0 {
		qps = 0
	}
	capacity := normalizeBurst(qps, burst)
	return &TokenBucket{
		ts:       ts,
		qps:      qps,
		capacity: capacity,
		tokens:   capacity,
		last:     ts.Now(),
	}
}

// normalizeBurst resolves an unspecified burst to the capacity actually
// used: at least one token, and enough for one second at the configured
// rate.
func normalizeBurst(qps float64, burst int) float64 {
	if burst > 0 {
		return float64(burst)
	}
	if qps <= 0 {
		return 1
	}
	return math.Max(1, math.Round(qps))
}

// Allow reports whether a request may proceed right now, consuming a token
// if so. It never blocks.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	ok := tb.take(tb.ts.Now())
	tb.record(ok)
	return ok
}

// AllowFor is the bounded-wait variant of Allow: if no token is available it
// polls, sleeping at most pollInterval between attempts, until a token is
// taken or timeout passes. On timeout (or ctx cancellation) it returns false
// and no token has been consumed. Waiters are not queued; no ordering is
// guaranteed among concurrent callers.
func (tb *TokenBucket) AllowFor(ctx context.Context, timeout time.Duration) bool {
	deadline := tb.ts.Now().Add(timeout)
	for {
		tb.mu.Lock()
		now := tb.ts.Now()
		if tb.take(now) {
			tb.record(true)
			tb.mu.Unlock()
			return true
		}
		wait := tb.untilNextToken()
		tb.mu.Unlock()

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			break
		}
		if wait > pollInterval {
			wait = pollInterval
		}
		if wait > remaining {
			wait = remaining
		}
		if err := clock.SleepSource(ctx, wait, tb.ts); err != nil {
			break
		}
	}
	tb.mu.Lock()
	tb.record(false)
	tb.mu.Unlock()
	return false
}

// SetQPS updates the rate and burst in one step. The current token count is
// clamped to the new capacity; the change is observed by the next Allow
// call. A qps <= 0 switches the bucket to unlimited, a burst <= 0 is
// defaulted as in NewTokenBucket.
func (tb *TokenBucket) SetQPS(qps float64, burst int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	// Settle time elapsed so far at the old rate before switching.
	tb.refill(tb.ts.Now())
	if qps < 0 {
		qps = 0
	}
	tb.qps = qps
	tb.capacity = normalizeBurst(qps, burst)
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// RetryAfter reports how long until the next request would be admitted:
// zero if one would be admitted now, otherwise the time for a full token to
// accrue at the current rate.
func (tb *TokenBucket) RetryAfter() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.qps <= 0 {
		return 0
	}
	tb.refill(tb.ts.Now())
	if tb.tokens >= 1 {
		return 0
	}
	return tb.untilNextToken()
}

// Stats returns a consistent snapshot of the bucket.
func (tb *TokenBucket) Stats() BucketStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill(tb.ts.Now())
	return BucketStats{
		QPS:      tb.qps,
		Burst:    int(tb.capacity),
		Tokens:   int(math.Round(tb.tokens)),
		Total:    tb.total,
		Allowed:  tb.allowed,
		Rejected: tb.rejected,
	}
}

// refill credits tokens for the time elapsed since the last refill, capped
// at capacity. Callers must hold mu.
func (tb *TokenBucket) refill(now time.Time) {
	if elapsed := now.Sub(tb.last).Seconds(); elapsed > 0 && tb.qps > 0 {
		tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.qps)
	}
	tb.last = now
}

// take attempts to remove a single token at instant now, refilling first.
// It is the one place admission over tokens is decided; Allow and AllowFor
// are wrappers around it. Callers must hold mu.
func (tb *TokenBucket) take(now time.Time) bool {
	if tb.qps <= 0 {
		return true
	}
	tb.refill(now)
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// untilNextToken returns the time for a full token to accrue at the current
// rate. Callers must hold mu; the bucket must be limited (qps > 0).
func (tb *TokenBucket) untilNextToken() time.Duration {
	need := 1 - tb.tokens
	if need <= 0 {
		return 0
	}
	return time.Duration(need / tb.qps * float64(time.Second))
}

// record counts the outcome of one admission decision. Callers must hold mu.
func (tb *TokenBucket) record(allowed bool) {
	tb.total++
	if allowed {
		tb.allowed++
	} else {
		tb.rejected++
	}
}

// BucketStats is a point-in-time description of a TokenBucket. Counters are
// monotone and satisfy Allowed + Rejected == Total.
type BucketStats struct {
	QPS      float64 `json:"qps"`
	Burst    int     `json:"burst"`
	Tokens   int     `json:"tokens"`
	Total    uint64  `json:"total"`
	Allowed  uint64  `json:"allowed"`
	Rejected uint64  `json:"rejected"`
}
