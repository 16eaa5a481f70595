package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostHeadersAndBody(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(
		WithUserAgent("keyless-go/1.0.0"),
		WithAcceptLanguage(func() string { return "nl" }),
	)
	resp, err := c.Post(context.Background(), srv.URL, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	if string(resp) != `{"ok":true}` {
		t.Errorf("response = %q", resp)
	}
	if string(gotBody) != `{"a":1}` {
		t.Errorf("request body = %q", gotBody)
	}
	if ct := gotHeader.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := gotHeader.Get("Cache-Control"); cc != "no-cache, no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if ua := gotHeader.Get("User-Agent"); ua != "keyless-go/1.0.0" {
		t.Errorf("User-Agent = %q", ua)
	}
	if al := gotHeader.Get("Accept-Language"); al != "nl" {
		t.Errorf("Accept-Language = %q", al)
	}
}

func TestGetOmitsCacheControl(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient()
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cc := gotHeader.Get("Cache-Control"); cc != "" {
		t.Errorf("Cache-Control = %q, want unset", cc)
	}
}

func TestNonSuccessStatusIsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Post(context.Background(), srv.URL, []byte(`{}`))

	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if te.Status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", te.Status)
	}
	if te.URL != srv.URL {
		t.Errorf("url = %q", te.URL)
	}
}

func TestConnectionFailureIsTypedError(t *testing.T) {
	c := NewClient()
	_, err := c.Post(context.Background(), "http://127.0.0.1:1/unreachable", []byte(`{}`))

	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if te.Status != 0 {
		t.Errorf("status = %d, want 0 without a response", te.Status)
	}
	if te.Unwrap() == nil {
		t.Error("expected a wrapped cause")
	}
}

func TestContextCancellationAborts(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient()
	if _, err := c.Post(ctx, srv.URL, []byte(`{}`)); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

func TestEmptyAcceptLanguageIsOmitted(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithAcceptLanguage(func() string { return "" }))
	if _, err := c.Get(context.Background(), srv.URL); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if al := gotHeader.Get("Accept-Language"); al != "" {
		t.Errorf("Accept-Language = %q, want unset", al)
	}
}
