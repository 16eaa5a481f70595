package flow

import (
	"encoding/json"
	"strings"
)

// directive is the minimum shape of a server-sent step instruction.
type directive struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// envelope wraps a directive in step responses. A present error object
// takes precedence over any step content.
type envelope struct {
	Step  json.RawMessage `json:"step"`
	Error *struct {
		ErrorCode    string `json:"errorCode"`
		UserMessage  string `json:"userMessage"`
		Message      string `json:"message"`
		FlowFinished bool   `json:"flowFinished"`
	} `json:"error"`
}

// stepFactory pairs a directive predicate with a step constructor. The
// registry is evaluated in order; first match wins.
type stepFactory struct {
	match func(d directive, s *Session) bool
	build func(d directive, s *Session) (step, error)
}

// Factory order matters: predicates must inspect structural fields, and
// the browser fallback only applies to sessions not started in QR mode.
var stepFactories = []stepFactory{
	{matchIDCollect, newIDCollectStep},
	{matchFido, newFidoStep},
	{matchOTP, newOTPStep},
	{matchWebApp, newWebAppStep},
	{matchSuccess, newSuccessStep},
}

// resolveNextStep turns a directive document into a concrete step. No
// partially-initialized step is ever returned: a matched factory fails
// with MalformedDirectiveError when a required field is missing.
func resolveNextStep(raw []byte, s *Session) (step, error) {
	var d directive
	if err := json.Unmarshal(raw, &d); err != nil || d.Type == "" {
		return nil, &MalformedDirectiveError{Field: "type"}
	}
	for _, f := range stepFactories {
		if f.match(d, s) {
			return f.build(d, s)
		}
	}
	return nil, &MalformedDirectiveError{Field: "type"}
}

// stepFromResponse handles a step response envelope: a server error
// object becomes a DirectiveError, otherwise the embedded directive is
// resolved against the factory registry.
func stepFromResponse(raw []byte, s *Session) (step, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedDirectiveError{Field: "step"}
	}
	if env.Error != nil {
		return nil, &DirectiveError{
			Code:         env.Error.ErrorCode,
			UserMessage:  env.Error.UserMessage,
			Message:      env.Error.Message,
			FlowFinished: env.Error.FlowFinished,
		}
	}
	if len(env.Step) == 0 {
		return nil, &MalformedDirectiveError{Field: "step"}
	}
	return resolveNextStep(env.Step, s)
}

func typeIs(d directive, name string) bool {
	return strings.EqualFold(d.Type, name)
}
