package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/keyless-sdk/keyless-go/event"
	"github.com/keyless-sdk/keyless-go/loginid"
	"github.com/keyless-sdk/keyless-go/transport"
)

// idCollectStep obtains a valid login identifier from the user. Local
// validation failures and transient server rejections keep the step
// alive so the user can retry.
type idCollectStep struct {
	url string
}

func (s *idCollectStep) kind() StepKind { return KindIDCollect }

func matchIDCollect(d directive, _ *Session) bool {
	return typeIs(d, "Starting")
}

func newIDCollectStep(d directive, _ *Session) (step, error) {
	var data struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(d.Data, &data); err != nil || data.URL == "" {
		return nil, &MalformedDirectiveError{Field: "url"}
	}
	return &idCollectStep{url: data.URL}, nil
}

type idCollectRequest struct {
	LoginID       string `json:"loginId"`
	SupportsFido2 bool   `json:"supportsFido2"`
}

func (s *idCollectStep) run(ctx context.Context, f *Flow) (step, error) {
	idType := f.cfg.LoginIDType
	if idType == "" {
		idType = loginid.KindEmail
	}

	var lastErr error
	for {
		prompt := &IDCollectPrompt{
			Type:       idType,
			PhoneCodes: f.cfg.PhoneCodes,
			Err:        lastErr,
			reply:      make(chan idCollectReply, 1),
		}
		if err := f.sendPrompt(ctx, prompt); err != nil {
			return nil, err
		}

		var reply idCollectReply
		select {
		case reply = <-prompt.reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if reply.cancelled {
			return nil, &CancelledError{Step: StepTagIDCollect}
		}

		id := normalizeLoginID(idType, reply.value, reply.dialCode)
		if !id.Valid(f.cfg.LoginIDPattern) {
			lastErr = &InvalidLoginIDError{Value: id.Value}
			continue
		}

		f.session.setLoginID(id, true)
		f.emit(event.TypeClick, "login id submitted")

		next, err := f.postForStep(ctx, s.url, idCollectRequest{
			LoginID:       id.Value,
			SupportsFido2: f.supportsFido(),
		})
		if err != nil {
			if idCollectRecoverable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return next, nil
	}
}

// normalizeLoginID shapes raw input into the identifier variant the
// application uses. Phone numbers get the selected dial code prefixed.
func normalizeLoginID(kind loginid.Kind, value, dialCode string) loginid.LoginID {
	value = strings.TrimSpace(value)
	if kind == loginid.KindPhone && dialCode != "" && !strings.HasPrefix(value, "+") {
		value = dialCode + value
	}
	return loginid.New(kind, value)
}

// idCollectRecoverable says whether a submission failure leaves the
// step alive. Transport failures and ordinary server rejections do;
// structural failures and a server-side finished flow do not.
func idCollectRecoverable(err error) bool {
	var te *transport.Error
	if errors.As(err, &te) {
		return true
	}
	var de *DirectiveError
	if errors.As(err, &de) {
		return !de.FlowFinished
	}
	return false
}
