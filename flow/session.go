package flow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/keyless-sdk/keyless-go/loginid"
)

// Type selects what the flow is trying to accomplish.
type Type int

const (
	Login Type = iota
	Register
	Manage
)

// String returns the wire name of the flow type.
func (t Type) String() string {
	switch t {
	case Register:
		return "register"
	case Manage:
		return "manage"
	default:
		return "login"
	}
}

// DefaultExpirationMillis is used when the server omits the flow
// expiration or reports a non-positive one.
const DefaultExpirationMillis = 1_200_000

// Session is the mutable state threaded through one flow attempt. It is
// owned by the engine for the attempt's lifetime and never reused.
//
// Steps mutate the session only through the locked setters below: the
// host goroutine may snapshot or cancel while a step is mid-flight, so
// the mutable fields are read under the same lock from that side.
type Session struct {
	FlowType Type

	// Verifier is a random 256-bit secret, base64url without padding.
	// Its digest binds the flow start to the flow completion.
	Verifier string

	QR              bool
	PasskeyAutofill bool

	mu sync.Mutex

	LoginID    loginid.LoginID
	UseLoginID bool

	// Populated from the flow start response.
	ContextToken     string
	ExpirationMillis int64
	StopURL          string
	FinalStatusURL   string

	cancelled atomic.Bool
}

// NewSession creates a session for one flow attempt with a fresh verifier.
func NewSession(flowType Type, seed loginid.LoginID) *Session {
	return &Session{
		FlowType:   flowType,
		Verifier:   NewVerifier(),
		LoginID:    seed,
		UseLoginID: !seed.IsEmpty(),
	}
}

// NewVerifier generates the random session verifier.
func NewVerifier() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Challenge derives the session challenge sent at flow start:
// base64url(SHA-256(base64url-decode(verifier))).
func (s *Session) Challenge() (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s.Verifier)
	if err != nil {
		return "", fmt.Errorf("invalid session verifier: %w", err)
	}
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// setEndpoints records the server-issued flow endpoints from the start
// response. A non-positive expiration falls back to the default.
func (s *Session) setEndpoints(contextToken string, expirationMillis int64, stopURL, finalStatusURL string) {
	if expirationMillis <= 0 {
		expirationMillis = DefaultExpirationMillis
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContextToken = contextToken
	s.ExpirationMillis = expirationMillis
	s.StopURL = stopURL
	s.FinalStatusURL = finalStatusURL
}

// setLoginID records or clears the identifier the flow runs under.
func (s *Session) setLoginID(id loginid.LoginID, use bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoginID = id
	s.UseLoginID = use
}

// stopEndpoint is the locked read counterpart for the host goroutine.
func (s *Session) stopEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopURL
}

// Cancel sets the one-way cancellation flag. Responses from requests
// already in flight are dropped once the flag is set.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether the session was cancelled.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}
