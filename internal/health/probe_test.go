package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func splitServer(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Timeout: time.Second, Delay: time.Millisecond}
}

func TestCheckStopsOnFirstHealthyResponse(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := splitServer(t, srv)
	if err := NewProber(srv.Client(), nil).Check(context.Background(), host, port, "http", fastPolicy(5)); err != nil {
		t.Fatalf("expected healthy service, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}
}

func TestCheckTreatsRedirectAsHealthy(t *testing.T) {
	var followed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			followed.Store(true)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer srv.Close()

	host, port := splitServer(t, srv)
	if err := NewProber(nil, nil).Check(context.Background(), host, port, "", fastPolicy(1)); err != nil {
		t.Fatalf("expected redirect to count as healthy, got %v", err)
	}
	if followed.Load() {
		t.Fatalf("redirect must not be followed")
	}
}

func TestCheckExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	host, port := splitServer(t, srv)
	err := NewProber(nil, nil).Check(context.Background(), host, port, "http", fastPolicy(3))
	var unresponsive *UnresponsiveError
	if !errors.As(err, &unresponsive) {
		t.Fatalf("expected UnresponsiveError, got %v", err)
	}
	if unresponsive.Attempts != 3 || hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got error=%d server=%d", unresponsive.Attempts, hits.Load())
	}
	if unresponsive.URL != "http://"+net.JoinHostPort(host, strconv.Itoa(port)) {
		t.Fatalf("unexpected url in error: %s", unresponsive.URL)
	}
}

func TestCheckUnreachableHost(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	err = NewProber(nil, nil).Check(context.Background(), "127.0.0.1", port, "http", fastPolicy(2))
	var unresponsive *UnresponsiveError
	if !errors.As(err, &unresponsive) {
		t.Fatalf("expected UnresponsiveError, got %v", err)
	}
}
