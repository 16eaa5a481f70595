package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keyless-sdk/keyless-go/config"
	"github.com/keyless-sdk/keyless-go/event"
	"github.com/keyless-sdk/keyless-go/locale"
	"github.com/keyless-sdk/keyless-go/loginid"
	"github.com/keyless-sdk/keyless-go/transport"
)

// Authenticator is the platform passkey capability. Options and
// credentials are WebAuthn JSON documents.
type Authenticator interface {
	// CreateCredential registers a new passkey for the given creation options.
	CreateCredential(ctx context.Context, optionsJSON string) (string, error)
	// GetCredential asserts an existing passkey for the given request options.
	GetCredential(ctx context.Context, optionsJSON string) (string, error)
}

// Config carries the static and server-published settings a flow runs
// under. It is assembled by the client from the local and server
// configuration before the first flow starts.
type Config struct {
	// InitURL is the endpoint that starts a new flow.
	InitURL string
	// RedirectURI is where browser hand-offs return to.
	RedirectURI string

	// Login id validation settings published by the server.
	LoginIDType    loginid.Kind
	LoginIDPattern *regexp.Regexp
	PhoneCodes     []config.PhoneCode

	// EnableRegistrationFromLogin allows the OTP "not you" transition to
	// restart the flow instead of cancelling it.
	EnableRegistrationFromLogin bool

	// Request-shaping flags fixed at session creation.
	QR              bool
	PasskeyAutofill bool
}

// Deps are the capabilities a flow executes against. Transport is
// required; a nil Authenticator disables passkeys, a nil Events sink
// discards metrics.
type Deps struct {
	Transport     transport.Executor
	Authenticator Authenticator
	Events        event.Sink
	Locales       *locale.Service
	Logins        *loginid.Keeper
}

// Flow owns one attempt. Steps execute strictly sequentially on the
// flow's goroutine; step state needs no locking.
type Flow struct {
	cfg     Config
	session *Session

	transport transport.Executor
	auth      Authenticator
	events    event.Sink
	locales   *locale.Service
	logins    *loginid.Keeper

	prompts     chan Prompt
	current     atomic.Value // currentStep
	currentKind atomic.Int32
}

// currentStep wraps the live step so atomic.Value always stores one
// concrete type.
type currentStep struct{ s step }

// Handle is the caller-facing surface of a running flow.
type Handle struct {
	flow   *Flow
	cancel context.CancelFunc

	done chan struct{}

	mu       sync.Mutex
	resp     Response
	err      error
	finished bool
}

// Start launches a flow attempt. The returned handle delivers
// interaction prompts and, eventually, exactly one result.
func Start(ctx context.Context, cfg Config, deps Deps, flowType Type, seed loginid.LoginID) (*Handle, error) {
	if deps.Transport == nil {
		return nil, errors.New("flow: transport is required")
	}
	if cfg.InitURL == "" {
		return nil, errors.New("flow: init url is required")
	}
	if deps.Events == nil {
		deps.Events = event.NopSink{}
	}

	session := NewSession(flowType, seed)
	session.QR = cfg.QR
	session.PasskeyAutofill = cfg.PasskeyAutofill

	f := &Flow{
		cfg:       cfg,
		session:   session,
		transport: deps.Transport,
		auth:      deps.Authenticator,
		events:    deps.Events,
		locales:   deps.Locales,
		logins:    deps.Logins,
		prompts:   make(chan Prompt, 1),
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{flow: f, cancel: cancel, done: make(chan struct{})}

	go f.run(runCtx, h)
	return h, nil
}

// Resume relaunches a flow from a snapshot taken by Handle.Snapshot.
func Resume(ctx context.Context, cfg Config, deps Deps, snap Snapshot) (*Handle, error) {
	session, start, err := snap.restore()
	if err != nil {
		return nil, err
	}
	if deps.Transport == nil {
		return nil, errors.New("flow: transport is required")
	}
	if deps.Events == nil {
		deps.Events = event.NopSink{}
	}

	f := &Flow{
		cfg:       cfg,
		session:   session,
		transport: deps.Transport,
		auth:      deps.Authenticator,
		events:    deps.Events,
		locales:   deps.Locales,
		logins:    deps.Logins,
		prompts:   make(chan Prompt, 1),
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{flow: f, cancel: cancel, done: make(chan struct{})}

	go f.runFrom(runCtx, h, start)
	return h, nil
}

// Prompts delivers user-interaction requests. The channel is closed
// when the flow finishes.
func (h *Handle) Prompts() <-chan Prompt {
	return h.flow.prompts
}

// Done is closed when the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result blocks until the flow finishes or ctx expires.
func (h *Handle) Result(ctx context.Context) (Response, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resp, h.err
}

// Cancel aborts the flow. The cancellation flag is set before the run
// context is torn down so a response racing the cancel is dropped, not
// applied. The server is notified on a best-effort basis.
func (h *Handle) Cancel() {
	h.flow.session.Cancel()
	h.flow.notifyStop()
	h.cancel()
}

// Snapshot captures the session and current step for mid-flow
// persistence across process restarts.
func (h *Handle) Snapshot() Snapshot {
	return h.flow.snapshot()
}

func (h *Handle) finish(resp Response, err error) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.resp = resp
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func (f *Flow) run(ctx context.Context, h *Handle) {
	f.runFrom(ctx, h, &initStep{})
}

func (f *Flow) runFrom(ctx context.Context, h *Handle, start step) {
	defer close(f.prompts)
	defer h.cancel()

	cur := start
	f.current.Store(currentStep{cur})
	f.currentKind.Store(int32(cur.kind()))
	f.emit(event.TypeTrack, "flow started")

	for {
		next, err := cur.run(ctx, f)

		// A cancellation that raced an in-flight request drops that
		// request's effect instead of applying a stale transition.
		if f.session.Cancelled() {
			f.emit(event.TypeClick, "Clicked Cancel")
			h.finish(Response{}, &CancelledError{Step: cur.kind().tag()})
			return
		}
		if err != nil {
			final := f.finalizeError(err)
			f.emitError(cur.kind().String(), final)
			h.finish(Response{}, final)
			return
		}
		if done, ok := next.(*doneStep); ok {
			if done.err != nil {
				final := f.finalizeError(done.err)
				f.emitError(cur.kind().String(), final)
				h.finish(Response{}, final)
				return
			}
			f.rememberLogin(ctx, done.resp)
			f.emit(event.TypeTrack, "flow finished")
			h.finish(done.resp, nil)
			return
		}

		slog.Debug("flow: step resolved",
			"from", cur.kind().String(),
			"to", next.kind().String())
		f.current.Store(currentStep{next})
		f.currentKind.Store(int32(next.kind()))
		f.emit(event.TypeTrack, "entered "+next.kind().String())
		cur = next
	}
}

// finalizeError coerces an unclassified failure into a localized
// UserError at the terminal boundary. Already-typed errors are
// preserved, never downgraded.
func (f *Flow) finalizeError(err error) error {
	var de *DirectiveError
	if errors.As(err, &de) {
		msg := de.UserMessage
		if msg == "" {
			msg = f.localized(locale.KeyUnspecifiedError)
		}
		return &UserError{
			Code:        normalizeErrorCode(de.Code),
			UserMessage: msg,
			Err:         de,
		}
	}

	switch err.(type) {
	case *CancelledError, *InvalidLoginIDError, *MalformedDirectiveError,
		*UserError, *IntegrationError, *WebAppMismatchError:
		return err
	}
	var te *transport.Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &CancelledError{Step: StepKind(f.currentKind.Load()).tag()}
	}

	return &UserError{
		Code:        ErrorCodeUnspecified,
		UserMessage: f.localized(locale.KeyUnspecifiedError),
		Err:         err,
	}
}

func (f *Flow) localized(key locale.Key) string {
	if f.locales == nil {
		if key.Fallback != "" {
			return key.Fallback
		}
		return locale.KeyUnspecifiedError.Fallback
	}
	return f.locales.GetString(key)
}

// post marshals body and executes a step request.
func (f *Flow) post(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return f.transport.Post(ctx, url, payload)
}

// postForStep executes a step request and resolves the next step from
// its response envelope.
func (f *Flow) postForStep(ctx context.Context, url string, body any) (step, error) {
	raw, err := f.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	return stepFromResponse(raw, f.session)
}

// notifyStop tells the server the flow was abandoned. Best effort: a
// short background request that is never awaited by the caller.
func (f *Flow) notifyStop() {
	stopURL := f.session.stopEndpoint()
	if stopURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := f.transport.Post(ctx, stopURL, []byte("{}")); err != nil {
			slog.Debug("flow: stop notification failed", "error", err)
		}
	}()
}

// rememberLogin persists the finished flow's identifier so the next
// attempt can be pre-filled, and records the enrollment method.
func (f *Flow) rememberLogin(ctx context.Context, resp Response) {
	if f.logins == nil || resp.LoginID == "" {
		return
	}
	if err := f.logins.SetLastLoginID(ctx, resp.LoginID); err != nil {
		slog.Warn("flow: failed to persist login id", "error", err)
	}
	data := loginid.Data{
		AuthMethod:           resp.AuthType,
		LastEnrollmentMillis: time.Now().UnixMilli(),
	}
	if err := f.logins.SetData(ctx, resp.LoginID, data); err != nil {
		slog.Warn("flow: failed to persist login id metadata", "error", err)
	}
}

func (f *Flow) category() event.Category {
	switch f.session.FlowType {
	case Register:
		return event.CategoryRegistration
	case Manage:
		return event.CategoryGeneral
	default:
		return event.CategoryLogin
	}
}

func (f *Flow) emit(typ event.Type, action string) {
	f.emitMetric(typ, action, "", "")
}

func (f *Flow) emitMetric(typ event.Type, action, errorMessage, errorCode string) {
	m := event.New(f.category(), typ, action)
	m.Context = f.session.ContextToken
	m.LoginIDHash = event.HashLoginID(f.session.LoginID.Value)
	m.Source = StepKind(f.currentKind.Load()).String()
	m.ErrorMessage = errorMessage
	m.ErrorCode = errorCode
	f.events.Emit(m)
}

func (f *Flow) emitError(source string, err error) {
	m := event.New(f.category(), event.TypeError, "flow failed")
	m.Context = f.session.ContextToken
	m.LoginIDHash = event.HashLoginID(f.session.LoginID.Value)
	m.Source = source
	m.ErrorMessage = err.Error()
	var ue *UserError
	if errors.As(err, &ue) {
		m.ErrorCode = ue.Code
	}
	f.events.Emit(m)
}

// supportsFido reports whether a platform authenticator is available.
func (f *Flow) supportsFido() bool {
	return f.auth != nil
}
