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
	"testing"
)

func TestSlotLimiterAcquireRelease(t *testing.T) {
	s := NewSlotLimiter(2)

	// Two slots are granted, the third attempt fails.
	for i := 0; i < 2; i++ {
		if !s.Acquire() {
			t.Fatalf("Acquire() #%d = false, want true", i+1)
		}
	}
	if s.Acquire() {
		t.Error("Acquire() #3 = true, want false")
	}

	// One Release frees exactly one slot.
	s.Release()
	if !s.Acquire() {
		t.Error("Acquire() after Release = false, want true")
	}
	if s.Acquire() {
		t.Error("Acquire() = true with limiter full again, want false")
	}

	if got, want := s.Stats().InFlight, 2; got != want {
		t.Errorf("Stats().InFlight = %v, want %v", got, want)
	}
}

func TestSlotLimiterUnlimited(t *testing.T) {
	tests := []struct {
		desc string
		max  int
	}{
		{desc: "zero", max: 0},
		{desc: "negative", max: -5},
	}
	for _, test := range tests {
		s := NewSlotLimiter(test.max)
		for i := 0; i < 100; i++ {
			if !s.Acquire() {
				t.Fatalf("%v: Acquire() #%d = false, want true", test.desc, i+1)
			}
		}
		// In-flight requests are still counted for introspection.
		if got, want := s.Stats().InFlight, 100; got != want {
			t.Errorf("%v: Stats().InFlight = %v, want %v", test.desc, got, want)
		}
	}
}

func TestSlotLimiterReleaseClamp(t *testing.T) {
	s := NewSlotLimiter(1)

	// A Release with no matching Acquire must clamp at zero, not wrap.
	s.Release()
	if got, want := s.Stats().InFlight, 0; got != want {
		t.Errorf("Stats().InFlight = %v after spurious Release, want %v", got, want)
	}

	// The limiter still works normally afterwards.
	if !s.Acquire() {
		t.Error("Acquire() = false after spurious Release, want true")
	}
	if got, want := s.Stats().InFlight, 1; got != want {
		t.Errorf("Stats().InFlight = %v, want %v", got, want)
	}
}

func TestSlotLimiterConcurrent(t *testing.T) {
	const (
		max     = 4
		workers = 32
		rounds  = 50
	)
	s := NewSlotLimiter(max)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if s.Acquire() {
					if got := s.Stats().InFlight; got > max {
						t.Errorf("InFlight = %v while holding a slot, want <= %v", got, max)
					}
					s.Release()
				}
			}
		}()
	}
	wg.Wait()

	stats := s.Stats()
	if stats.InFlight != 0 {
		t.Errorf("Stats().InFlight = %v after all releases, want 0", stats.InFlight)
	}
	if stats.Peak > max {
		t.Errorf("Stats().Peak = %v, want <= %v", stats.Peak, max)
	}
}
