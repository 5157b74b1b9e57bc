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
	"time"

	"github.com/gatekit/gatekit/util/clock"
)

// Engine is the admission facade composing a KeyRouter with a Registry of
// per-key limiters. The zero value is not usable; construct with New.
type Engine struct {
	router      *KeyRouter
	reg         *Registry
	waitTimeout time.Duration
}

// Engine implements Admitter.
var _ Admitter = (*Engine)(nil)

type options struct {
	ts          clock.TimeSource
	waitTimeout time.Duration
}

// Option configures an Engine at construction.
type Option func(*options)

// WithTimeSource makes the Engine read time from ts instead of system time.
func WithTimeSource(ts clock.TimeSource) Option {
	return func(o *options) { o.ts = ts }
}

// WithWaitTimeout makes Allow wait up to d for a token instead of answering
// immediately. Zero restores the non-blocking behavior.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) { o.waitTimeout = d }
}

// New builds an Engine from cfg. Invalid configuration (negative qps, burst
// or max_concurrency, empty or duplicate patterns) is reported here; a
// constructed Engine never fails at request time.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := options{ts: clock.System}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		router:      NewKeyRouter(cfg.Policies),
		reg:         newRegistry(&cfg, o.ts),
		waitTimeout: o.waitTimeout,
	}, nil
}

// Allow reports whether a request for verb and path is within its policy's
// rate, consuming a token if so. With a wait timeout configured the call
// may block up to that long for a token to accrue; otherwise it answers
// immediately. Rejection is a return value, never an error.
func (e *Engine) Allow(ctx context.Context, verb, path string) bool {
	key := e.router.Route(verb, path)
	bucket := e.reg.limiter(key).bucket
	var ok bool
	if e.waitTimeout > 0 {
		ok = bucket.AllowFor(ctx, e.waitTimeout)
	} else {
		ok = bucket.Allow()
	}
	incDecision(key, rateStage, ok)
	return ok
}

// Acquire claims a concurrency slot for verb and path. Callers must pair
// every successful Acquire with exactly one Release, on all exit paths.
func (e *Engine) Acquire(verb, path string) bool {
	key := e.router.Route(verb, path)
	pair := e.reg.limiter(key)
	ok := pair.slots.Acquire()
	incDecision(key, slotStage, ok)
	if ok {
		setInFlight(key, pair.slots.Stats().InFlight)
	}
	return ok
}

// Release returns the concurrency slot claimed for verb and path.
func (e *Engine) Release(verb, path string) {
	key := e.router.Route(verb, path)
	pair := e.reg.limiter(key)
	pair.slots.Release()
	setInFlight(key, pair.slots.Stats().InFlight)
}

// RetryAfter estimates how long the caller of a rate-rejected request for
// verb and path should wait before retrying.
func (e *Engine) RetryAfter(verb, path string) time.Duration {
	key := e.router.Route(verb, path)
	return e.reg.limiter(key).bucket.RetryAfter()
}

// Stats snapshots every configured routing key.
func (e *Engine) Stats() Stats {
	return e.reg.Stats()
}

// UpdateQPS changes the rate and burst of one routing key at runtime.
// Concurrency limits are fixed at construction.
func (e *Engine) UpdateQPS(key string, qps float64, burst int) error {
	return e.reg.SetQPS(key, qps, burst)
}
