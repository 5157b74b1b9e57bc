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

// Package middleware defines HTTP middleware that applies admission control
// to inbound requests.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	"github.com/gatekit/gatekit/admission"
)

// Middleware checks that requests are within their endpoint's rate and
// concurrency limits before they reach the wrapped handler. Requests over
// either limit are answered with 429 Too Many Requests; rate rejections
// carry a Retry-After header with the engine's estimate.
type Middleware struct {
	Engine admission.Admitter

	// DryRun controls whether limits actually block requests (if set to true,
	// no requests are blocked; denials are logged and counted instead).
	DryRun bool
}

// Wrap returns a handler that applies admission control around next. Requests
// are routed by HTTP method and URL path.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		incRequestCounter()
		verb, path := r.Method, r.URL.Path

		if !m.Engine.Allow(r.Context(), verb, path) {
			incRequestDeniedCounter(rateExceededReason, verb, path)
			if !m.DryRun {
				sendRetryLater(w, m.Engine.RetryAfter(verb, path))
				return
			}
			klog.Warningf("(DryRun) Request %v %v not denied due to dry run mode", verb, path)
		}

		if m.Engine.Acquire(verb, path) {
			// Release on every exit path, the handler may panic.
			defer m.Engine.Release(verb, path)
		} else {
			incRequestDeniedCounter(concurrencyExceededReason, verb, path)
			if !m.DryRun {
				sendRetryLater(w, 0)
				return
			}
			klog.Warningf("(DryRun) Request %v %v not denied due to dry run mode", verb, path)
		}

		next.ServeHTTP(w, r)
	})
}

// WrapFunc is a convenience form of Wrap for plain handler functions.
func (m *Middleware) WrapFunc(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return m.Wrap(http.HandlerFunc(next))
}

// sendRetryLater answers a denied request. Retry-After is expressed in whole
// seconds, rounded up, and at least 1 so compliant clients always back off.
func sendRetryLater(w http.ResponseWriter, retry time.Duration) {
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	http.Error(w, "too many requests", http.StatusTooManyRequests)
}
