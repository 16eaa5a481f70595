package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/keyless-sdk/keyless-go/event"
	"github.com/keyless-sdk/keyless-go/fido"
)

// fidoOp is the passkey operation the server requested.
type fidoOp string

const (
	fidoRegister fidoOp = "register"
	fidoLogin    fidoOp = "login"
)

// fidoStep drives the platform authenticator. Its fallback policy:
// a login with no known credentials becomes a registration without a
// network round-trip, and a login attempt that finds no credential on
// the device is retried as a registration exactly once.
type fidoStep struct {
	op              fidoOp
	url             string
	rpID            string
	rpName          string
	userName        string
	userDisplayName string
	credIDs         []string
}

func (s *fidoStep) kind() StepKind {
	if s.op == fidoLogin {
		return KindFidoLogin
	}
	return KindFidoRegister
}

func matchFido(d directive, _ *Session) bool {
	return typeIs(d, "fido2Authorize")
}

func newFidoStep(d directive, _ *Session) (step, error) {
	var data struct {
		Operation       string   `json:"operation"`
		URL             string   `json:"url"`
		RelyingPartyID  string   `json:"relyingPartyId"`
		RelyingParty    string   `json:"relyingPartyName"`
		UserName        string   `json:"userName"`
		UserDisplayName string   `json:"userDisplayName"`
		CredID          string   `json:"credId"`
		CredsIDs        []string `json:"credsIds"`
	}
	if err := json.Unmarshal(d.Data, &data); err != nil {
		return nil, &MalformedDirectiveError{Field: "data"}
	}
	if data.URL == "" {
		return nil, &MalformedDirectiveError{Field: "url"}
	}
	if data.RelyingPartyID == "" {
		return nil, &MalformedDirectiveError{Field: "relyingPartyId"}
	}

	var op fidoOp
	switch strings.ToLower(data.Operation) {
	case "register":
		op = fidoRegister
	case "login":
		op = fidoLogin
	default:
		return nil, &MalformedDirectiveError{Field: "operation"}
	}

	// The entity names are required even for logins: a login with no
	// usable credential re-registers with the same directive data.
	if data.RelyingParty == "" {
		return nil, &MalformedDirectiveError{Field: "relyingPartyName"}
	}
	if data.UserName == "" {
		return nil, &MalformedDirectiveError{Field: "userName"}
	}
	if data.UserDisplayName == "" {
		return nil, &MalformedDirectiveError{Field: "userDisplayName"}
	}

	// The credential id list falls back to the single credId field;
	// blanks are filtered either way.
	ids := data.CredsIDs
	if len(ids) == 0 && data.CredID != "" {
		ids = []string{data.CredID}
	}
	var credIDs []string
	for _, id := range ids {
		if id != "" {
			credIDs = append(credIDs, id)
		}
	}

	return &fidoStep{
		op:              op,
		url:             data.URL,
		rpID:            data.RelyingPartyID,
		rpName:          data.RelyingParty,
		userName:        data.UserName,
		userDisplayName: data.UserDisplayName,
		credIDs:         credIDs,
	}, nil
}

type fidoRequest struct {
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *fido.Error     `json:"error,omitempty"`
}

func (s *fidoStep) run(ctx context.Context, f *Flow) (step, error) {
	// The operation is tracked in locals: a host goroutine may snapshot
	// this step while it runs, and a snapshot always captures the
	// directive as the server issued it.
	op, credIDs := s.op, s.credIDs

	// There is nothing to authenticate against; switch to registration
	// with the same session.
	if op == fidoLogin && len(credIDs) == 0 {
		op = fidoRegister
	}

	for attempt := 0; ; attempt++ {
		f.emit(event.TypeTrack, "FIDO: About To Execute")
		cred, err := s.invoke(ctx, f, op, credIDs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A login that found no credential on the device falls back
			// to registration exactly once; any later failure is
			// reported to the server as-is.
			if op == fidoLogin && attempt == 0 && errors.Is(err, fido.ErrNoCredential) {
				f.emitMetric(event.TypeTrack, "FIDO: Trying to register new one", err.Error(), "")
				op = fidoRegister
				credIDs = nil
				continue
			}
			f.emitMetric(event.TypeError, "FIDO: Execution Did Not Complete", err.Error(), "")
			structured := fido.StructuredError(err)
			return f.postForStep(ctx, s.url, fidoRequest{
				Type:  string(op),
				Error: &structured,
			})
		}

		f.emit(event.TypeTrack, "FIDO: Execution Completed Successfully")
		return f.postForStep(ctx, s.url, fidoRequest{
			Type:   string(op),
			Result: json.RawMessage(cred),
		})
	}
}

// invoke builds the options document for the given operation and calls
// the platform authenticator.
func (s *fidoStep) invoke(ctx context.Context, f *Flow, op fidoOp, credIDs []string) (string, error) {
	if f.auth == nil {
		return "", &fido.Error{
			Name:    "NotSupportedError",
			Type:    "unsupported",
			Message: "no platform authenticator available",
		}
	}

	challenge, err := fido.NewChallenge()
	if err != nil {
		return "", err
	}

	if op == fidoRegister {
		userID, err := fido.NewUserID()
		if err != nil {
			return "", err
		}
		options, err := fido.RegisterOptions(challenge, s.rpID, s.rpName, userID, s.userName, s.userDisplayName, credIDs)
		if err != nil {
			return "", err
		}
		return f.auth.CreateCredential(ctx, options)
	}

	options, err := fido.LoginOptions(challenge, s.rpID, credIDs)
	if err != nil {
		return "", err
	}
	return f.auth.GetCredential(ctx, options)
}
