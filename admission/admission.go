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
)

const (
	// DefaultKey is the routing key of the fallback policy, applied to
	// requests matched by no configured policy.
	DefaultKey = "default"

	// VerbRPC is the verb under which RPC methods are routed. The path of
	// an RPC request is its full method name, "/package.Service/Method".
	VerbRPC = "RPC"
)

// Admitter is the admission surface consumed by protocol adapters. Allow
// answers the rate question for a request; Acquire and Release bracket its
// in-flight period. Callers must call Release exactly once for each Acquire
// that returned true, on every exit path, and never otherwise.
type Admitter interface {
	Allow(ctx context.Context, verb, path string) bool
	Acquire(verb, path string) bool
	Release(verb, path string)
	// RetryAfter estimates how long the caller of a rate-rejected request
	// should wait before retrying.
	RetryAfter(verb, path string) time.Duration
}
