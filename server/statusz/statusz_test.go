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

package statusz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gatekit/gatekit/admission"
	"github.com/gatekit/gatekit/util/clock"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHandler(t *testing.T) {
	ctx := context.Background()
	engine, err := admission.New(admission.Config{
		Policies: []admission.Policy{
			{Verb: "GET", Pattern: "/api/v1/*", QPS: 10, Burst: 5, MaxConcurrency: 8},
		},
		Default: admission.Limits{QPS: 100},
	}, admission.WithTimeSource(clock.NewFake(testTime)))
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	for i := 0; i < 7; i++ {
		engine.Allow(ctx, "GET", "/api/v1/users")
	}
	engine.Acquire("GET", "/api/v1/users")

	w := httptest.NewRecorder()
	Handler(engine).ServeHTTP(w, httptest.NewRequest("GET", "/statusz", nil))
	if got, want := w.Code, http.StatusOK; got != want {
		t.Fatalf("status = %v, want = %v", got, want)
	}
	if got, want := w.Header().Get(contentTypeHeader), contentTypeJSON; got != want {
		t.Errorf("Content-Type = %q, want = %q", got, want)
	}

	var stats admission.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Unmarshal(body) = %v, want nil", err)
	}
	key := "GET:/api/v1/*"
	ks, ok := stats[key]
	if !ok {
		t.Fatalf("response missing key %q, got keys = %v", key, len(stats))
	}
	if got, want := ks.Rate.Total, uint64(7); got != want {
		t.Errorf("Total = %v, want = %v", got, want)
	}
	if got, want := ks.Rate.Allowed, uint64(5); got != want {
		t.Errorf("Allowed = %v, want = %v", got, want)
	}
	if got, want := ks.Slots.InFlight, 1; got != want {
		t.Errorf("InFlight = %v, want = %v", got, want)
	}
	if _, ok := stats[admission.DefaultKey]; !ok {
		t.Errorf("response missing key %q", admission.DefaultKey)
	}
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	engine, err := admission.New(admission.Config{})
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	w := httptest.NewRecorder()
	Handler(engine).ServeHTTP(w, httptest.NewRequest("POST", "/statusz", nil))
	if got, want := w.Code, http.StatusMethodNotAllowed; got != want {
		t.Errorf("status = %v, want = %v", got, want)
	}
}
