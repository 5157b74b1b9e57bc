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
	"os"

	"gopkg.in/yaml.v2"
)

// ParseConfig parses and validates a YAML admission configuration:
//
//	policies:
//	  - verb: GET             # optional; empty matches any verb
//	    pattern: /api/v1/*    # exact path, or prefix when ending in '*'
//	    qps: 10
//	    burst: 5              # optional; defaults to max(1, round(qps))
//	    max_concurrency: 8    # optional; 0 means unlimited
//	default:
//	  qps: 100
//	  max_concurrency: 0
//
// Unknown fields are rejected, as is any configuration New would refuse.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse admission config: %v", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigFile reads and parses the YAML admission configuration at path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read admission config: %v", err)
	}
	return ParseConfig(data)
}
