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

// Package main contains the implementation and entry point for the
// gatekit_checkconfig command, which validates an admission policy file
// before it is rolled out to a server.
//
// Example usage:
// $ ./gatekit_checkconfig --policy_config=policies.yaml
//
// The output is minimal to allow for easy usage in automated scripts.
package main

import (
	"errors"
	"flag"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/gatekit/gatekit/admission"
)

var policyConfig = flag.String("policy_config", "", "Path of the YAML policy file to check")

func checkConfig() (*admission.Config, error) {
	if *policyConfig == "" {
		return nil, errors.New("empty --policy_config, please provide the policy file path")
	}
	cfg, err := admission.LoadConfigFile(*policyConfig)
	if err != nil {
		return nil, err
	}
	// Run the same construction the server performs at startup.
	if _, err := admission.New(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg, err := checkConfig()
	if err != nil {
		klog.Exitf("Failed to check config: %v", err)
	}
	// DO NOT change the output format, scripts are meant to depend on it.
	// If you need a different output format, please consider adding a flag.
	for _, p := range cfg.Policies {
		fmt.Println(p.Key())
	}
}
