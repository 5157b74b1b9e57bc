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

// Stats is a point-in-time snapshot of every configured routing key,
// including keys no request has referenced yet.
type Stats map[string]KeyStats

// KeyStats describes the state of one routing key's limiter pair.
type KeyStats struct {
	Rate  BucketStats `json:"rate"`
	Slots SlotStats   `json:"slots"`
}
