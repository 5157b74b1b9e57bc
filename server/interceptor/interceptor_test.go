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

package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gatekit/gatekit/admission"
	"github.com/gatekit/gatekit/monitoring"
	"github.com/gatekit/gatekit/util/clock"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const testMethod = "/gatekit.Test/Get"

func testEngine(t *testing.T, policy admission.Policy) *admission.Engine {
	t.Helper()
	engine, err := admission.New(
		admission.Config{Policies: []admission.Policy{policy}},
		admission.WithTimeSource(clock.NewFake(testTime)))
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	return engine
}

func TestAdmissionInterceptor_UnaryInterceptor(t *testing.T) {
	handlerErr := errors.New("handler error")

	tests := []struct {
		desc       string
		policy     admission.Policy
		drain      int // tokens consumed before the intercepted request
		hold       int // slots held before the intercepted request
		dryRun     bool
		handlerErr error
		wantCode   codes.Code
	}{
		{
			desc:   "allowed",
			policy: admission.Policy{Pattern: "/gatekit.Test/*", QPS: 100, Burst: 10},
		},
		{
			desc:     "rateDenied",
			policy:   admission.Policy{Pattern: "/gatekit.Test/*", QPS: 100, Burst: 1},
			drain:    1,
			wantCode: codes.ResourceExhausted,
		},
		{
			desc:     "concurrencyDenied",
			policy:   admission.Policy{Pattern: "/gatekit.Test/*", MaxConcurrency: 1},
			hold:     1,
			wantCode: codes.ResourceExhausted,
		},
		{
			desc:   "rateDeniedDryRun",
			policy: admission.Policy{Pattern: "/gatekit.Test/*", QPS: 100, Burst: 1},
			drain:  1,
			dryRun: true,
		},
		{
			desc:   "concurrencyDeniedDryRun",
			policy: admission.Policy{Pattern: "/gatekit.Test/*", MaxConcurrency: 1},
			hold:   1,
			dryRun: true,
		},
		{
			desc:       "handlerErrPassesThrough",
			policy:     admission.Policy{Pattern: "/gatekit.Test/*", QPS: 100, Burst: 10},
			handlerErr: handlerErr,
		},
	}

	ctx := context.Background()
	for _, test := range tests {
		engine := testEngine(t, test.policy)
		for i := 0; i < test.drain; i++ {
			engine.Allow(ctx, admission.VerbRPC, testMethod)
		}
		for i := 0; i < test.hold; i++ {
			engine.Acquire(admission.VerbRPC, testMethod)
		}

		intercept := &AdmissionInterceptor{Engine: engine, DryRun: test.dryRun}
		handler := &fakeHandler{resp: "handler response", err: test.handlerErr}

		resp, err := intercept.UnaryInterceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: testMethod}, handler.run)
		denied := err != nil && err != test.handlerErr
		if wantDenied := test.wantCode != codes.OK; denied != wantDenied {
			t.Errorf("%v: UnaryInterceptor() returned err = %v, want code = %v", test.desc, err, test.wantCode)
			continue
		}
		if denied {
			if got := status.Code(err); got != test.wantCode {
				t.Errorf("%v: status.Code(err) = %v, want = %v", test.desc, got, test.wantCode)
			}
			if handler.called {
				t.Errorf("%v: handler called for denied request", test.desc)
			}
			continue
		}

		if !handler.called {
			t.Errorf("%v: handler not called", test.desc)
			continue
		}
		if handler.resp != resp {
			t.Errorf("%v: resp = %v, want = %v", test.desc, resp, handler.resp)
		}
		if handler.err != err {
			t.Errorf("%v: err = %v, want = %v", test.desc, err, handler.err)
		}

		// Whatever the handler outcome, slots claimed by the interceptor must
		// be returned.
		if got, want := engine.Stats()[test.policy.Key()].Slots.InFlight, test.hold; got != want {
			t.Errorf("%v: InFlight = %v after completion, want = %v", test.desc, got, want)
		}
	}
}

func TestAdmissionInterceptorHoldsSlotDuringHandler(t *testing.T) {
	ctx := context.Background()
	engine := testEngine(t, admission.Policy{Pattern: "/gatekit.Test/*", MaxConcurrency: 2})
	intercept := &AdmissionInterceptor{Engine: engine}

	handlerErr := errors.New("handler error")
	inHandler := -1
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		inHandler = engine.Stats()["/gatekit.Test/*"].Slots.InFlight
		return nil, handlerErr
	}

	if _, err := intercept.UnaryInterceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: testMethod}, handler); err != handlerErr {
		t.Fatalf("UnaryInterceptor() returned err = %v, want = %v", err, handlerErr)
	}
	if got, want := inHandler, 1; got != want {
		t.Errorf("InFlight during handler = %v, want = %v", got, want)
	}
	// The slot is released even though the handler failed.
	if got, want := engine.Stats()["/gatekit.Test/*"].Slots.InFlight, 0; got != want {
		t.Errorf("InFlight after handler = %v, want = %v", got, want)
	}
}

func TestAdmissionInterceptor_StreamInterceptor(t *testing.T) {
	engine := testEngine(t, admission.Policy{Pattern: "/gatekit.Test/*", QPS: 100, Burst: 1, MaxConcurrency: 4})
	intercept := &AdmissionInterceptor{Engine: engine}
	info := &grpc.StreamServerInfo{FullMethod: testMethod}

	called := false
	handler := func(srv interface{}, stream grpc.ServerStream) error {
		called = true
		if stream.Context() == nil {
			t.Error("handler stream has nil context")
		}
		return nil
	}

	stream := &fakeServerStream{ctx: context.Background()}
	if err := intercept.StreamInterceptor(nil, stream, info, handler); err != nil {
		t.Fatalf("StreamInterceptor() returned err = %v, want nil", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
	if got, want := engine.Stats()["/gatekit.Test/*"].Slots.InFlight, 0; got != want {
		t.Errorf("InFlight after stream = %v, want = %v", got, want)
	}

	// The burst is spent; the next stream is denied before the handler.
	called = false
	err := intercept.StreamInterceptor(nil, stream, info, handler)
	if got, want := status.Code(err), codes.ResourceExhausted; got != want {
		t.Errorf("status.Code(err) = %v, want = %v", got, want)
	}
	if called {
		t.Error("handler called for denied stream")
	}
}

func TestInterceptorMetrics(t *testing.T) {
	InitMetrics(monitoring.InertMetricFactory{})

	ctx := context.Background()
	engine := testEngine(t, admission.Policy{Pattern: "/gatekit.Test/*", QPS: 100, Burst: 1})
	intercept := &AdmissionInterceptor{Engine: engine}
	handler := &fakeHandler{resp: "ok"}

	if _, err := intercept.UnaryInterceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: testMethod}, handler.run); err != nil {
		t.Fatalf("UnaryInterceptor() returned err = %v, want nil", err)
	}
	handler.called = false
	if _, err := intercept.UnaryInterceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: testMethod}, handler.run); err == nil {
		t.Fatal("UnaryInterceptor() returned nil err on spent budget, want ResourceExhausted")
	}

	if got, want := requestCounter.Value(), 2.0; got != want {
		t.Errorf("requestCounter = %v, want = %v", got, want)
	}
	if got, want := requestDeniedCounter.Value(rateExceededReason, testMethod), 1.0; got != want {
		t.Errorf("requestDeniedCounter = %v, want = %v", got, want)
	}
}

type fakeHandler struct {
	called bool
	resp   interface{}
	err    error
	// Attributes recorded by run calls
	ctx context.Context
	req interface{}
}

func (f *fakeHandler) run(ctx context.Context, req interface{}) (interface{}, error) {
	if f.called {
		panic("handler already called; either create a new handler or set called to false before reusing")
	}
	f.called = true
	f.ctx = ctx
	f.req = req
	return f.resp, f.err
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context {
	return f.ctx
}
