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
	"errors"
	"fmt"
	"strings"
)

// wildcardSuffix marks a pattern as prefix-matched. Only meaningful at the
// end of a pattern; anywhere else it is a configuration error.
const wildcardSuffix = "*"

// Policy states the admission limits for one endpoint or endpoint group.
// Policies are immutable once handed to New.
type Policy struct {
	// Verb restricts the policy to a single HTTP method (or VerbRPC).
	// Empty applies to any verb.
	Verb string `yaml:"verb" json:"verb,omitempty"`

	// Pattern is the exact path or RPC method to match, or a path prefix
	// when the pattern ends in "*".
	Pattern string `yaml:"pattern" json:"pattern"`

	// QPS is the sustained admission rate in requests per second.
	// Zero means unlimited.
	QPS float64 `yaml:"qps" json:"qps"`

	// Burst is the token bucket capacity: the number of requests admitted
	// instantaneously after an idle period. Zero means max(1, round(QPS)).
	Burst int `yaml:"burst" json:"burst,omitempty"`

	// MaxConcurrency bounds the number of in-flight requests.
	// Zero means unlimited.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency,omitempty"`
}

// Key returns the routing key under which the policy is registered:
// "verb:pattern" for verb-restricted policies, the bare pattern otherwise.
func (p Policy) Key() string {
	if p.Verb == "" {
		return p.Pattern
	}
	return p.Verb + ":" + p.Pattern
}

// isPrefix reports whether the policy's pattern is wildcard (prefix) matched.
func (p Policy) isPrefix() bool {
	return strings.HasSuffix(p.Pattern, wildcardSuffix)
}

// prefix returns the pattern with its wildcard suffix removed.
func (p Policy) prefix() string {
	return strings.TrimSuffix(p.Pattern, wildcardSuffix)
}

func (p Policy) validate() error {
	if p.Pattern == "" {
		return errors.New("policy has empty pattern")
	}
	if strings.Contains(p.prefix(), wildcardSuffix) {
		return fmt.Errorf("policy %q: wildcard is only allowed at the end of a pattern", p.Key())
	}
	if p.QPS < 0 {
		return fmt.Errorf("policy %q: negative qps %v (use 0 for unlimited)", p.Key(), p.QPS)
	}
	if p.Burst < 0 {
		return fmt.Errorf("policy %q: negative burst %d", p.Key(), p.Burst)
	}
	if p.MaxConcurrency < 0 {
		return fmt.Errorf("policy %q: negative max_concurrency %d (use 0 for unlimited)", p.Key(), p.MaxConcurrency)
	}
	return nil
}

// Limits are the limiter settings of the default policy, which has no verb
// or pattern of its own.
type Limits struct {
	QPS            float64 `yaml:"qps" json:"qps"`
	Burst          int     `yaml:"burst" json:"burst,omitempty"`
	MaxConcurrency int     `yaml:"max_concurrency" json:"max_concurrency,omitempty"`
}

// Config is the complete admission configuration for one Engine: an ordered
// list of policies plus the default limits. The order of Policies is
// significant for wildcard matching (see KeyRouter).
type Config struct {
	Policies []Policy `yaml:"policies" json:"policies"`
	Default  Limits   `yaml:"default" json:"default"`
}

// validate reports the first problem with the configuration. All problems
// are construction-time errors; a validated Config never fails at request
// time.
func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Policies))
	for i, p := range c.Policies {
		if err := p.validate(); err != nil {
			return fmt.Errorf("policy #%d: %v", i, err)
		}
		key := p.Key()
		if seen[key] {
			return fmt.Errorf("policy #%d: duplicate key %q", i, key)
		}
		seen[key] = true
	}
	d := c.Default
	if d.QPS < 0 {
		return fmt.Errorf("default: negative qps %v (use 0 for unlimited)", d.QPS)
	}
	if d.Burst < 0 {
		return fmt.Errorf("default: negative burst %d", d.Burst)
	}
	if d.MaxConcurrency < 0 {
		return fmt.Errorf("default: negative max_concurrency %d (use 0 for unlimited)", d.MaxConcurrency)
	}
	return nil
}
