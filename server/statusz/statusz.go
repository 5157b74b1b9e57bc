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

// Package statusz exposes a read-only JSON view of the admission engine's
// per-key state, for debugging and dashboards.
package statusz

import (
	"encoding/json"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/gatekit/gatekit/admission"
)

const (
	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json"
)

// StatsSource provides the per-key snapshot served by Handler.
// *admission.Engine satisfies it.
type StatsSource interface {
	Stats() admission.Stats
}

// Handler serves the current stats of src as an indented JSON object, one
// entry per routing key. Keys are emitted in sorted order. The handler only
// reads; limits cannot be changed through it.
func Handler(src StatsSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		jsonData, err := json.MarshalIndent(src.Stats(), "", "  ")
		if err != nil {
			klog.Warningf("Failed to marshal statusz response: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set(contentTypeHeader, contentTypeJSON)
		if _, err := w.Write(jsonData); err != nil {
			klog.Warningf("Failed to write statusz response: %v", err)
		}
	})
}
