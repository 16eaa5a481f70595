// Package redirect runs a loopback HTTP server that receives the single
// browser callback a web-app hand-off ends with, for hosts without a
// deep-link surface of their own.
package redirect

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const callbackPath = "/callback"

var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "success"}}<!DOCTYPE html>
<html><head><title>Signed in</title></head>
<body><h1>You are signed in</h1><p>{{.Message}} You can close this window.</p></body></html>{{end}}
{{define "error"}}<!DOCTYPE html>
<html><head><title>Sign-in failed</title></head>
<body><h1>Sign-in failed</h1><p>{{.Error}}</p></body></html>{{end}}
`))

// Server captures one redirect callback on a loopback listener.
type Server struct {
	listener   net.Listener
	httpServer *http.Server

	callbacks chan string
	closeOnce sync.Once
}

// NewServer binds the listener immediately so the callback URI is known
// before the browser is launched. addr like "127.0.0.1:0" picks a free
// port.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback listener: %w", err)
	}

	s := &Server{
		listener:  listener,
		callbacks: make(chan string, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handleCallback)
	mux.HandleFunc("/health", s.handleHealth)

	handler := loggingMiddleware(mux)
	handler = recoveryMiddleware(handler)
	handler = securityHeadersMiddleware(handler)

	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// URI returns the redirection URI to configure the flow with.
func (s *Server) URI() string {
	return fmt.Sprintf("http://%s%s", s.listener.Addr().String(), callbackPath)
}

// Callbacks delivers each received callback URL, query included.
func (s *Server) Callbacks() <-chan string {
	return s.callbacks
}

// Start serves until Shutdown. It blocks; run it on its own goroutine.
func (s *Server) Start() error {
	slog.Info("starting callback server", "addr", s.listener.Addr().String())
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and closes the callback channel
// once all in-flight handlers have finished.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down callback server")
	err := s.httpServer.Shutdown(ctx)
	s.closeOnce.Do(func() { close(s.callbacks) })
	return err
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	full := &url.URL{
		Scheme:   "http",
		Host:     s.listener.Addr().String(),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	select {
	case s.callbacks <- full.String():
		s.renderSuccess(w, "Authentication completed.")
	default:
		// A callback already arrived for this hand-off.
		s.renderError(w, "This sign-in attempt was already completed.")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) renderSuccess(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := pageTemplates.ExecuteTemplate(w, "success", map[string]string{"Message": message}); err != nil {
		slog.Error("failed to render success page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) renderError(w http.ResponseWriter, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusConflict)
	if err := pageTemplates.ExecuteTemplate(w, "error", map[string]string{"Error": errMsg}); err != nil {
		slog.Error("failed to render error page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
