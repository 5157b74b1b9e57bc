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

	"github.com/gatekit/gatekit/monitoring"
)

const (
	rateStage = "rate"
	slotStage = "concurrency"
)

var (
	decisionCounter monitoring.Counter
	inFlightGauge   monitoring.Gauge
	metricsOnce     = sync.Once{}
)

// InitMetrics initializes the metrics exported by the admission package.
// May be called multiple times. If so, the first call is the one that
// counts. Engines work fine without it; decisions are then not exported.
func InitMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		decisionCounter = mf.NewCounter(
			"admission_decisions",
			"Number of admission decisions, labeled by routing key, limiting stage and outcome",
			"key", "stage", "allowed")
		inFlightGauge = mf.NewGauge(
			"admission_in_flight",
			"Number of requests currently holding a concurrency slot, by routing key",
			"key")
	})
}

func incDecision(key, stage string, allowed bool) {
	if decisionCounter != nil {
		decisionCounter.Inc(key, stage, fmt.Sprint(allowed))
	}
}

func setInFlight(key string, n int) {
	if inFlightGauge != nil {
		inFlightGauge.Set(float64(n), key)
	}
}
