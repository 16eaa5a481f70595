package redirect

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go srv.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func TestCallbackDelivered(t *testing.T) {
	srv := startServer(t)

	uri := srv.URI()
	if !strings.HasSuffix(uri, "/callback") {
		t.Fatalf("URI() = %q", uri)
	}

	resp, err := http.Get(uri + "?context=ctx-token&code=abc")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "signed in") {
		t.Errorf("unexpected page body: %s", body)
	}

	select {
	case got := <-srv.Callbacks():
		if !strings.Contains(got, "context=ctx-token") || !strings.Contains(got, "code=abc") {
			t.Errorf("callback url = %q", got)
		}
		if !strings.HasPrefix(got, "http://127.0.0.1:") {
			t.Errorf("callback url host = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the callback")
	}
}

func TestSecondCallbackConflicts(t *testing.T) {
	srv := startServer(t)

	first, err := http.Get(srv.URI())
	if err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	first.Body.Close()

	second, err := http.Get(srv.URI())
	if err != nil {
		t.Fatalf("second callback failed: %v", err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("second callback status = %d, want 409", second.StatusCode)
	}
}

func TestShutdownClosesCallbackChannel(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go srv.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case _, open := <-srv.Callbacks():
		if open {
			t.Error("callback channel delivered a value after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("callback channel not closed after shutdown")
	}

	// Shutdown is idempotent.
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := startServer(t)

	base := strings.TrimSuffix(srv.URI(), "/callback")
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}
