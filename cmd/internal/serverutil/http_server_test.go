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

package serverutil_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gatekit/gatekit/admission"
	"github.com/gatekit/gatekit/cmd/internal/serverutil"
)

func pickFreePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected addr type: %T", ln.Addr())
	}
	return addr.Port
}

func httpGetStatus(t *testing.T, url string) int {
	t.Helper()

	resp, err := http.Get(url) //nolint:gosec
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(resp.Body)
	return resp.StatusCode
}

func waitForStatus(t *testing.T, url string, want int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url) //nolint:gosec
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == want {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d from %s", want, url)
}

func TestMainServesAdmissionControlledHTTP(t *testing.T) {
	httpPort := pickFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine, err := admission.New(admission.Config{
		Policies: []admission.Policy{{Pattern: "/api/v1/*", QPS: 1, Burst: 2}},
	})
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}

	m := &serverutil.Main{
		RPCEndpoint:  "127.0.0.1:0",
		HTTPEndpoint: fmt.Sprintf("127.0.0.1:%d", httpPort),
		Engine:       engine,
		HTTPHandlers: map[string]http.Handler{
			"/api/v1/hello": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("hello")); err != nil {
					t.Errorf("Write: %v", err)
				}
			}),
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Run(ctx)
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", httpPort)
	waitForStatus(t, baseURL+"/healthz", http.StatusOK)

	// Diagnostic endpoints are served unwrapped.
	if got := httpGetStatus(t, baseURL+"/metrics"); got != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", got)
	}
	if got := httpGetStatus(t, baseURL+"/statusz"); got != http.StatusOK {
		t.Fatalf("expected 200 from /statusz, got %d", got)
	}

	// The configured burst admits two requests, the third is limited.
	for i := 0; i < 2; i++ {
		if got := httpGetStatus(t, baseURL+"/api/v1/hello"); got != http.StatusOK {
			t.Fatalf("expected 200 from /api/v1/hello #%d, got %d", i+1, got)
		}
	}
	if got := httpGetStatus(t, baseURL+"/api/v1/hello"); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429 from /api/v1/hello #3, got %d", got)
	}

	cancel()
	select {
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for server shutdown")
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	}
}

func TestMainHealthzReportsUnhealthy(t *testing.T) {
	httpPort := pickFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine, err := admission.New(admission.Config{})
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}

	m := &serverutil.Main{
		RPCEndpoint:  "127.0.0.1:0",
		HTTPEndpoint: fmt.Sprintf("127.0.0.1:%d", httpPort),
		Engine:       engine,
		IsHealthy: func(context.Context) error {
			return errors.New("backend not ready")
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Run(ctx)
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", httpPort)
	waitForStatus(t, baseURL+"/healthz", http.StatusServiceUnavailable)

	cancel()
	select {
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for server shutdown")
	case <-errCh:
	}
}
