package flow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/keyless-sdk/keyless-go/event"
	"github.com/keyless-sdk/keyless-go/loginid"
)

// fakeTransport records requests and answers them via a handler.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []transportCall
	handler func(method, url string, body []byte) ([]byte, error)
}

type transportCall struct {
	method string
	url    string
	body   []byte
}

func (t *fakeTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	t.mu.Lock()
	t.calls = append(t.calls, transportCall{method: "POST", url: url, body: body})
	t.mu.Unlock()
	if t.handler == nil {
		return []byte(`{}`), nil
	}
	return t.handler("POST", url, body)
}

func (t *fakeTransport) Get(ctx context.Context, url string) ([]byte, error) {
	t.mu.Lock()
	t.calls = append(t.calls, transportCall{method: "GET", url: url})
	t.mu.Unlock()
	if t.handler == nil {
		return []byte(`{}`), nil
	}
	return t.handler("GET", url, nil)
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *fakeTransport) call(i int) transportCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[i]
}

// fakeAuth is a deterministic platform authenticator.
type fakeAuth struct {
	mu       sync.Mutex
	creates  int
	gets     int
	createFn func(options string) (string, error)
	getFn    func(options string) (string, error)
}

func (a *fakeAuth) CreateCredential(ctx context.Context, options string) (string, error) {
	a.mu.Lock()
	a.creates++
	a.mu.Unlock()
	if a.createFn == nil {
		return `{"id":"new-credential"}`, nil
	}
	return a.createFn(options)
}

func (a *fakeAuth) GetCredential(ctx context.Context, options string) (string, error) {
	a.mu.Lock()
	a.gets++
	a.mu.Unlock()
	if a.getFn == nil {
		return `{"id":"asserted-credential"}`, nil
	}
	return a.getFn(options)
}

func (a *fakeAuth) counts() (creates, gets int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates, a.gets
}

// newTestFlow builds a Flow for driving individual steps in tests.
func newTestFlow(t *testing.T, cfg Config, tr *fakeTransport, auth Authenticator) *Flow {
	t.Helper()
	if cfg.InitURL == "" {
		cfg.InitURL = "https://server.test/events"
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = "https://app.test/callback"
	}
	session := NewSession(Login, loginid.Empty)
	session.ContextToken = "ctx-token"
	session.StopURL = "https://server.test/stop"
	session.FinalStatusURL = "https://server.test/final"
	f := &Flow{
		cfg:       cfg,
		session:   session,
		transport: tr,
		auth:      auth,
		events:    discardSink{},
		prompts:   make(chan Prompt, 4),
	}
	f.current.Store(currentStep{&initStep{}})
	return f
}

type discardSink struct{}

func (discardSink) Emit(event.Metric) {}

// recordSink captures emitted metrics for assertions.
type recordSink struct {
	mu      sync.Mutex
	metrics []event.Metric
}

func (s *recordSink) Emit(m event.Metric) {
	s.mu.Lock()
	s.metrics = append(s.metrics, m)
	s.mu.Unlock()
}

func (s *recordSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		out[i] = m.Action
	}
	return out
}

func (s *recordSink) find(action string) (event.Metric, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.metrics {
		if m.Action == action {
			return m, true
		}
	}
	return event.Metric{}, false
}

func stepEnvelope(t *testing.T, stepType string, data map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"step": map[string]any{"type": stepType, "data": data},
	})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	return raw
}

func errorEnvelope(t *testing.T, code, userMessage string, flowFinished bool) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"error": map[string]any{
			"errorCode":    code,
			"userMessage":  userMessage,
			"flowFinished": flowFinished,
		},
	})
	if err != nil {
		t.Fatalf("failed to build error envelope: %v", err)
	}
	return raw
}
