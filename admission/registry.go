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
	"fmt"
	"sync"

	"github.com/gatekit/gatekit/util/clock"
	"k8s.io/klog/v2"
)

// Registry owns the limiter pairs of one Engine, keyed by routing key.
// Pairs are created lazily on first reference and live for the Engine's
// lifetime; the key set is bounded by configuration (configured keys plus
// DefaultKey), so there is no eviction. There is no process-wide registry:
// each Engine scopes its own.
type Registry struct {
	ts clock.TimeSource

	mu       sync.RWMutex
	policies map[string]Policy
	limiters map[string]*limiterPair
}

// limiterPair couples the two limiters enforcing one key's policy.
type limiterPair struct {
	bucket *TokenBucket
	slots  *SlotLimiter
}

// newRegistry indexes a validated Config by routing key. The default limits
// are registered under DefaultKey like any other policy.
func newRegistry(cfg *Config, ts clock.TimeSource) *Registry {
	policies := make(map[string]Policy, len(cfg.Policies)+1)
	for _, p := range cfg.Policies {
		policies[p.Key()] = p
	}
	policies[DefaultKey] = Policy{
		Pattern:        DefaultKey,
		QPS:            cfg.Default.QPS,
		Burst:          cfg.Default.Burst,
		MaxConcurrency: cfg.Default.MaxConcurrency,
	}
	return &Registry{
		ts:       ts,
		policies: policies,
		limiters: make(map[string]*limiterPair, len(policies)),
	}
}

// limiter returns the limiter pair for key, creating it on first use.
func (r *Registry) limiter(key string) *limiterPair {
	r.mu.RLock()
	pair := r.limiters[key]
	r.mu.RUnlock()
	if pair != nil {
		return pair
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if pair := r.limiters[key]; pair != nil {
		// Lost the race to another caller.
		return pair
	}
	p, ok := r.policies[key]
	if !ok {
		// The router only produces configured keys, so this is a caller bug.
		klog.Warningf("Registry: no policy for key %q, applying default limits", key)
		p = r.policies[DefaultKey]
	}
	pair = &limiterPair{
		bucket: NewTokenBucket(p.QPS, p.Burst, r.ts),
		slots:  NewSlotLimiter(p.MaxConcurrency),
	}
	r.limiters[key] = pair
	return pair
}

// SetQPS updates the rate and burst for one configured key. A live limiter
// is updated in place; a key not yet referenced materializes with the new
// values. Returns an error for unknown keys or invalid values.
func (r *Registry) SetQPS(key string, qps float64, burst int) error {
	if qps < 0 {
		return fmt.Errorf("negative qps %v (use 0 for unlimited)", qps)
	}
	if burst < 0 {
		return fmt.Errorf("negative burst %d", burst)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[key]
	if !ok {
		return fmt.Errorf("no policy with key %q", key)
	}
	p.QPS = qps
	p.Burst = burst
	r.policies[key] = p
	if pair := r.limiters[key]; pair != nil {
		pair.bucket.SetQPS(qps, burst)
	}
	return nil
}

// Stats snapshots every configured key. Keys never referenced report the
// state of a fresh pair: a full bucket and zero counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(Stats, len(r.policies))
	for key, p := range r.policies {
		if pair := r.limiters[key]; pair != nil {
			stats[key] = KeyStats{Rate: pair.bucket.Stats(), Slots: pair.slots.Stats()}
			continue
		}
		burst := int(normalizeBurst(p.QPS, p.Burst))
		stats[key] = KeyStats{
			Rate:  BucketStats{QPS: p.QPS, Burst: burst, Tokens: burst},
			Slots: SlotStats{MaxConcurrency: p.MaxConcurrency},
		}
	}
	return stats
}
