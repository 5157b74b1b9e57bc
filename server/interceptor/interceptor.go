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

// Package interceptor defines gRPC interceptors for Gatekit.
package interceptor

import (
	"context"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"github.com/gatekit/gatekit/admission"
)

// RequestProcessor encapsulates the logic to intercept a request, split into
// separate stages: before and after the handler is invoked.
type RequestProcessor interface {

	// Before implements all interceptor logic that happens before the handler
	// is called. It returns a (potentially) modified context that's passed
	// forward to the handler (and After), plus an error, in case the request
	// should be interrupted before the handler is invoked.
	Before(ctx context.Context, method string) (context.Context, error)

	// After implements all interceptor logic that happens after the handler is
	// invoked. Before must be invoked prior to After and the same
	// RequestProcessor instance must be used to process a given request.
	After(ctx context.Context, handlerErr error)
}

// AdmissionInterceptor checks that requests are within their method's rate and
// concurrency limits before they reach the handler. Requests over either limit
// fail with codes.ResourceExhausted.
type AdmissionInterceptor struct {
	Engine admission.Admitter

	// DryRun controls whether limits actually block requests (if set to true,
	// no requests are blocked; denials are logged and counted instead).
	DryRun bool
}

// UnaryInterceptor executes the AdmissionInterceptor logic for unary RPCs.
func (i *AdmissionInterceptor) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	// Implement UnaryInterceptor using a RequestProcessor, so we 1. exercise it
	// and 2. make it easier to port this logic to non-gRPC implementations.
	rp := i.NewProcessor()
	var err error
	ctx, err = rp.Before(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	resp, err := handler(ctx, req)
	rp.After(ctx, err)
	return resp, err
}

// StreamInterceptor executes the AdmissionInterceptor logic for streaming
// RPCs. Admission is checked once, when the stream is opened; individual
// messages on an admitted stream are not limited.
func (i *AdmissionInterceptor) StreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	rp := i.NewProcessor()
	ctx, err := rp.Before(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	ws := grpc_middleware.WrapServerStream(ss)
	ws.WrappedContext = ctx
	err = handler(srv, ws)
	rp.After(ctx, err)
	return err
}

// NewProcessor returns a RequestProcessor for the AdmissionInterceptor logic.
func (i *AdmissionInterceptor) NewProcessor() RequestProcessor {
	return &admissionProcessor{parent: i}
}

type admissionProcessor struct {
	parent *AdmissionInterceptor

	// method is the full RPC method name ("/package.Service/Method"), recorded
	// by Before. Empty means Before has not run.
	method string

	// acquired tracks whether Before claimed a concurrency slot that After
	// must release.
	acquired bool
}

func (ap *admissionProcessor) Before(ctx context.Context, method string) (context.Context, error) {
	incRequestCounter()
	ap.method = method

	if !ap.parent.Engine.Allow(ctx, admission.VerbRPC, method) {
		incRequestDeniedCounter(rateExceededReason, method)
		if !ap.parent.DryRun {
			retry := ap.parent.Engine.RetryAfter(admission.VerbRPC, method)
			return ctx, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %q, retry in %v", method, retry)
		}
		klog.Warningf("(DryRun) Request %v not denied due to dry run mode", method)
	}

	if !ap.parent.Engine.Acquire(admission.VerbRPC, method) {
		incRequestDeniedCounter(concurrencyExceededReason, method)
		if !ap.parent.DryRun {
			return ctx, status.Errorf(codes.ResourceExhausted, "concurrency limit reached for %q", method)
		}
		klog.Warningf("(DryRun) Request %v not denied due to dry run mode", method)
	} else {
		ap.acquired = true
	}
	return ctx, nil
}

func (ap *admissionProcessor) After(ctx context.Context, handlerErr error) {
	if ap.method == "" {
		klog.Warningf("After called without a prior Before, handlerErr = [%v]", handlerErr)
		return
	}
	if ap.acquired {
		ap.parent.Engine.Release(admission.VerbRPC, ap.method)
		ap.acquired = false
	}
}
