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
	"sync"

	"k8s.io/klog/v2"
)

// SlotLimiter counts in-flight requests against a concurrency ceiling.
// A max of zero (or less) disables the limit; in-flight requests are still
// counted for introspection. All methods are safe for concurrent use.
type SlotLimiter struct {
	mu       sync.Mutex
	max      int
	inFlight int
	peak     int
}

// NewSlotLimiter creates a SlotLimiter admitting up to max concurrent
// requests. A max <= 0 means unlimited.
func NewSlotLimiter(max int) *SlotLimiter {
	return &SlotLimiter{max: max}
}

// Acquire claims a concurrency slot, reporting whether one was free. It
// never blocks. A successful Acquire must be paired with exactly one
// Release.
func (s *SlotLimiter) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && s.inFlight >= s.max {
		return false
	}
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	return true
}

// Release returns a slot claimed by a successful Acquire. Calling Release
// without a matching Acquire is a caller bug: the count is clamped at zero
// and the event logged rather than wrapping negative.
func (s *SlotLimiter) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == 0 {
		klog.Errorf("SlotLimiter: Release without matching Acquire (max=%d)", s.max)
		return
	}
	s.inFlight--
}

// Stats returns a consistent snapshot of the limiter.
func (s *SlotLimiter) Stats() SlotStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStats{
		MaxConcurrency: s.max,
		InFlight:       s.inFlight,
		Peak:           s.peak,
	}
}

// SlotStats is a point-in-time description of a SlotLimiter. InFlight never
// exceeds MaxConcurrency when the latter is positive, and never goes
// negative; Peak is the high-water mark of InFlight.
type SlotStats struct {
	MaxConcurrency int `json:"max_concurrency"`
	InFlight       int `json:"in_flight"`
	Peak           int `json:"peak"`
}
