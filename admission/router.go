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

import "strings"

// prefixRule is one wildcard policy in configuration order.
type prefixRule struct {
	verb   string
	prefix string
	key    string
}

// KeyRouter maps a (verb, path) pair to the routing key of the policy that
// governs it. A router is immutable once built and safe for concurrent use.
type KeyRouter struct {
	exactVerb map[string]string
	exactPath map[string]string
	prefixes  []prefixRule
}

// NewKeyRouter builds a router over the given policies, which are assumed
// to have passed Config validation. The relative order of wildcard policies
// is preserved, as it decides match precedence.
func NewKeyRouter(policies []Policy) *KeyRouter {
	r := &KeyRouter{
		exactVerb: make(map[string]string),
		exactPath: make(map[string]string),
	}
	for _, p := range policies {
		key := p.Key()
		if p.isPrefix() {
			r.prefixes = append(r.prefixes, prefixRule{verb: p.Verb, prefix: p.prefix(), key: key})
			continue
		}
		if p.Verb != "" {
			r.exactVerb[key] = key
		} else {
			r.exactPath[p.Pattern] = key
		}
	}
	return r
}

// Route returns the routing key for a request. Candidates are tried in a
// fixed order:
//
//  1. exact match on "verb:path";
//  2. exact match on "path" alone (verb-agnostic policies);
//  3. the first wildcard policy, in configuration order, whose prefix
//     matches the path and whose verb is empty or equal;
//  4. DefaultKey.
//
// Wildcard precedence is first-match in configuration order, not
// longest-prefix: with "/api/*" configured before "/api/v1/*", "/api/*"
// wins for "/api/v1/users". Configurations that rely on overlap must order
// the more specific prefix first.
func (r *KeyRouter) Route(verb, path string) string {
	if key, ok := r.exactVerb[verb+":"+path]; ok {
		return key
	}
	if key, ok := r.exactPath[path]; ok {
		return key
	}
	for _, rule := range r.prefixes {
		if rule.verb != "" && rule.verb != verb {
			continue
		}
		if strings.HasPrefix(path, rule.prefix) {
			return rule.key
		}
	}
	return DefaultKey
}
