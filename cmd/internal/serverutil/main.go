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

// Package serverutil holds code for running Gatekit servers.
package serverutil

import (
	"context"
	"net"
	"net/http"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"
	"k8s.io/klog/v2"

	"github.com/gatekit/gatekit/admission"
	"github.com/gatekit/gatekit/monitoring"
	"github.com/gatekit/gatekit/server/interceptor"
	"github.com/gatekit/gatekit/server/middleware"
	"github.com/gatekit/gatekit/server/statusz"
	"github.com/gatekit/gatekit/util"
	"github.com/gatekit/gatekit/util/clock"
)

// Main encapsulates the data and logic to start a Gatekit server.
type Main struct {
	// Endpoints for RPC and HTTP servers.
	// HTTP is optional, if empty it'll not be bound.
	RPCEndpoint, HTTPEndpoint string

	// TLS Certificate and Key files for the server.
	TLSCertFile, TLSKeyFile string

	// Engine admits or rejects every request served by this process.
	Engine *admission.Engine

	MetricFactory monitoring.MetricFactory

	StatsPrefix string

	// DryRun controls whether admission denials actually block requests.
	DryRun bool

	// RegisterServerFn is called to register RPC services.
	RegisterServerFn func(*grpc.Server) error

	// HTTPHandlers are bound on the HTTP mux wrapped with the admission
	// middleware. The diagnostic endpoints (/metrics, /healthz, /statusz)
	// are bound unwrapped; limiting them would blind operators exactly when
	// limits are biting.
	HTTPHandlers map[string]http.Handler

	// IsHealthy will be called whenever "/healthz" is called on the mux.
	// A nil return value from this function will result in a 200-OK response
	// on the /healthz endpoint.
	IsHealthy func(context.Context) error
	// HealthyDeadline is the maximum duration to wait for a successful
	// IsHealthy() call.
	HealthyDeadline time.Duration

	// These will be added to the GRPC server options.
	ExtraOptions []grpc.ServerOption
}

func (m *Main) healthz(rw http.ResponseWriter, req *http.Request) {
	if m.IsHealthy != nil {
		ctx, cancel := context.WithTimeout(req.Context(), m.HealthyDeadline)
		defer cancel()
		if err := m.IsHealthy(ctx); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte(err.Error()))
			return
		}
	}
	rw.Write([]byte("ok"))
}

// Run starts the configured server. Blocks until the context is canceled or
// a termination signal arrives, then shuts both listeners down gracefully.
func (m *Main) Run(ctx context.Context) error {
	if m.HealthyDeadline == 0 {
		m.HealthyDeadline = 5 * time.Second
	}
	if m.MetricFactory == nil {
		m.MetricFactory = monitoring.InertMetricFactory{}
	}

	srv, err := m.newGRPCServer()
	if err != nil {
		return err
	}
	if m.RegisterServerFn != nil {
		if err := m.RegisterServerFn(srv); err != nil {
			return err
		}
	}
	reflection.Register(srv)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if endpoint := m.HTTPEndpoint; endpoint != "" {
		mw := &middleware.Middleware{Engine: m.Engine, DryRun: m.DryRun}
		mux := http.NewServeMux()
		for pattern, handler := range m.HTTPHandlers {
			mux.Handle(pattern, mw.Wrap(handler))
		}
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", m.healthz)
		mux.Handle("/statusz", statusz.Handler(m.Engine))

		hs := &http.Server{Addr: endpoint, Handler: mux}
		g.Go(func() error {
			klog.Infof("HTTP server starting on %v", endpoint)

			var err error
			// Let http.ListenAndServeTLS handle the error case when only one of the flags is set.
			if m.TLSCertFile != "" || m.TLSKeyFile != "" {
				err = hs.ListenAndServeTLS(m.TLSCertFile, m.TLSKeyFile)
			} else {
				err = hs.ListenAndServe()
			}
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			klog.Info("Stopping HTTP server...")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			return hs.Shutdown(stopCtx)
		})
	}

	lis, err := net.Listen("tcp", m.RPCEndpoint)
	if err != nil {
		return err
	}
	g.Go(func() error {
		klog.Infof("RPC server starting on %v", lis.Addr())
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		klog.Info("Stopping RPC server...")
		srv.GracefulStop()
		return nil
	})
	g.Go(func() error {
		util.AwaitSignal(ctx, cancel)
		return nil
	})

	err = g.Wait()
	klog.Infof("Stopping server, about to exit")
	klog.Flush()
	return err
}

// newGRPCServer builds a gRPC server with the stats and admission
// interceptors installed.
func (m *Main) newGRPCServer() (*grpc.Server, error) {
	stats := monitoring.NewRPCStatsInterceptor(clock.System, m.StatsPrefix, m.MetricFactory)
	ai := &interceptor.AdmissionInterceptor{Engine: m.Engine, DryRun: m.DryRun}

	serverOpts := []grpc.ServerOption{
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			stats.Interceptor(),
			ai.UnaryInterceptor,
		)),
		grpc.StreamInterceptor(ai.StreamInterceptor),
	}
	serverOpts = append(serverOpts, m.ExtraOptions...)

	// Let credentials.NewServerTLSFromFile handle the error case when only one of the flags is set.
	if m.TLSCertFile != "" || m.TLSKeyFile != "" {
		serverCreds, err := credentials.NewServerTLSFromFile(m.TLSCertFile, m.TLSKeyFile)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(serverCreds))
	}

	return grpc.NewServer(serverOpts...), nil
}
