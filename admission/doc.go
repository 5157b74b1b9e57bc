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

// Package admission decides, for every inbound request, whether the request
// may proceed. It is the mechanism by which a serving process protects
// itself and its downstream dependencies from overload.
//
// Each request is subject to two independent limits, selected per endpoint:
// a sustained rate ceiling enforced by a token bucket (QPS plus a burst
// allowance), and a concurrency ceiling bounding how many requests may be in
// flight at once. Requests are mapped to a policy by routing key: the exact
// "{verb}:{path}" pair, the exact path, the first configured wildcard prefix
// that matches, or the default policy, tried in that order.
//
// The Engine is the facade the protocol adapters call: Allow answers the
// rate question, Acquire/Release bracket the in-flight period. A rejected
// request is a normal return value, never an error; the adapter translates
// it into a protocol-specific response (HTTP 429, gRPC RESOURCE_EXHAUSTED).
// Limiter state is local to the process and is not shared across replicas
// or persisted across restarts.
package admission
