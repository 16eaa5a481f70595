package flow

import (
	"context"
	"encoding/json"
)

// initStep creates the server-side flow state. Any failure here is
// structural and terminates the flow.
type initStep struct{}

func (s *initStep) kind() StepKind { return KindInit }

type initRequest struct {
	Type            string `json:"type"`
	LoginID         string `json:"loginId,omitempty"`
	SupportsFido2   bool   `json:"supportsFido2"`
	PasskeyAutofill bool   `json:"passkeyAutofill"`
	QR              bool   `json:"qr"`
	// SessionChallenge binds this flow start to the verifier the client
	// presents again at completion.
	SessionChallenge string `json:"sessionChallenge"`
}

type initResponse struct {
	Context          string          `json:"context"`
	ExpirationMillis int64           `json:"expiration"`
	StopURL          string          `json:"stopUrl"`
	FinalStatusURL   string          `json:"finalStatusUrl"`
	Step             json.RawMessage `json:"step"`
	Error            *struct {
		ErrorCode    string `json:"errorCode"`
		UserMessage  string `json:"userMessage"`
		Message      string `json:"message"`
		FlowFinished bool   `json:"flowFinished"`
	} `json:"error"`
}

func (s *initStep) run(ctx context.Context, f *Flow) (step, error) {
	challenge, err := f.session.Challenge()
	if err != nil {
		return nil, err
	}

	req := initRequest{
		Type:             f.session.FlowType.String(),
		SupportsFido2:    f.supportsFido(),
		PasskeyAutofill:  f.session.PasskeyAutofill,
		QR:               f.session.QR,
		SessionChallenge: challenge,
	}
	if f.session.UseLoginID && !f.session.LoginID.IsEmpty() {
		req.LoginID = f.session.LoginID.Value
	}

	raw, err := f.post(ctx, f.cfg.InitURL, req)
	if err != nil {
		return nil, err
	}

	var resp initResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &MalformedDirectiveError{Field: "context"}
	}
	if resp.Error != nil {
		return nil, &DirectiveError{
			Code:         resp.Error.ErrorCode,
			UserMessage:  resp.Error.UserMessage,
			Message:      resp.Error.Message,
			FlowFinished: resp.Error.FlowFinished,
		}
	}
	if resp.Context == "" {
		return nil, &MalformedDirectiveError{Field: "context"}
	}
	if resp.StopURL == "" {
		return nil, &MalformedDirectiveError{Field: "stopUrl"}
	}
	if resp.FinalStatusURL == "" {
		return nil, &MalformedDirectiveError{Field: "finalStatusUrl"}
	}

	f.session.setEndpoints(resp.Context, resp.ExpirationMillis, resp.StopURL, resp.FinalStatusURL)

	if len(resp.Step) == 0 {
		return nil, &MalformedDirectiveError{Field: "step"}
	}
	return resolveNextStep(resp.Step, f.session)
}
