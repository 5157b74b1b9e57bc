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

// The gatekit_server binary runs an admission-controlled server: a gRPC
// endpoint with rate and concurrency limiting interceptors installed, plus
// an HTTP endpoint serving the diagnostic surface (/metrics, /healthz,
// /statusz). Limits are read from a YAML policy file.
package main

import (
	"context"
	"flag"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/klog/v2"

	"github.com/gatekit/gatekit/admission"
	"github.com/gatekit/gatekit/cmd"
	"github.com/gatekit/gatekit/cmd/internal/serverutil"
	"github.com/gatekit/gatekit/monitoring/prometheus"
	"github.com/gatekit/gatekit/server/interceptor"
	"github.com/gatekit/gatekit/server/middleware"
)

var (
	rpcEndpoint    = flag.String("rpc_endpoint", "localhost:8090", "Endpoint for RPC requests (host:port)")
	httpEndpoint   = flag.String("http_endpoint", "localhost:8091", "Endpoint for HTTP requests (host:port, empty means disabled)")
	healthzTimeout = flag.Duration("healthz_timeout", time.Second*5, "Timeout used during healthz checks")
	tlsCertFile    = flag.String("tls_cert_file", "", "Path to the TLS server certificate. If unset, the server will use unsecured connections.")
	tlsKeyFile     = flag.String("tls_key_file", "", "Path to the TLS server key. If unset, the server will use unsecured connections.")

	policyFile  = flag.String("policy_config", "", "Path to the YAML admission policy file (required)")
	dryRun      = flag.Bool("dry_run", false, "If true no requests are blocked due to admission limits")
	waitTimeout = flag.Duration("wait_timeout", 0, "How long a rate-limited request may wait for a token before being rejected; zero rejects immediately")
	statsPrefix = flag.String("stats_prefix", "gatekit", "Prefix for RPC stats metric names")

	configFile = flag.String("config", "", "Config file containing flags, file contents can be overridden by command line flags")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *configFile != "" {
		if err := cmd.ParseFlagFile(*configFile); err != nil {
			klog.Exitf("Failed to load flags from config file %q: %s", *configFile, err)
		}
	}
	if *policyFile == "" {
		klog.Exitf("Missing required --policy_config flag")
	}

	cfg, err := admission.LoadConfigFile(*policyFile)
	if err != nil {
		klog.Exitf("Failed to load policy file %q: %v", *policyFile, err)
	}

	mf := prometheus.MetricFactory{}
	admission.InitMetrics(mf)
	interceptor.InitMetrics(mf)
	middleware.InitMetrics(mf)

	engine, err := admission.New(*cfg, admission.WithWaitTimeout(*waitTimeout))
	if err != nil {
		klog.Exitf("Failed to build admission engine: %v", err)
	}

	m := &serverutil.Main{
		RPCEndpoint:     *rpcEndpoint,
		HTTPEndpoint:    *httpEndpoint,
		TLSCertFile:     *tlsCertFile,
		TLSKeyFile:      *tlsKeyFile,
		Engine:          engine,
		MetricFactory:   mf,
		StatsPrefix:     *statsPrefix,
		DryRun:          *dryRun,
		HealthyDeadline: *healthzTimeout,
		RegisterServerFn: func(s *grpc.Server) error {
			healthpb.RegisterHealthServer(s, health.NewServer())
			return nil
		},
	}

	if err := m.Run(context.Background()); err != nil {
		klog.Exitf("Server exited with error: %v", err)
	}
}
