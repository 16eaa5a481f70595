package flow

import (
	"fmt"
	"strings"
)

// StepTag names the sub-step a cancellation happened in.
type StepTag string

const (
	StepTagInit         StepTag = "INIT"
	StepTagIDCollect    StepTag = "ID_COLLECT"
	StepTagFidoRegister StepTag = "FIDO_REGISTER"
	StepTagFidoLogin    StepTag = "FIDO_LOGIN"
	StepTagOTP          StepTag = "OTP"
	StepTagWebApp       StepTag = "WEB_APP"
	StepTagSuccess      StepTag = "SUCCESS"
)

// CancelledError reports that the user or the caller aborted the flow
// while the named sub-step was live.
type CancelledError struct {
	Step StepTag
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("flow cancelled during %s", e.Step)
}

// InvalidLoginIDError reports that a locally-validated login identifier
// was rejected before any network call.
type InvalidLoginIDError struct {
	Value string
}

func (e *InvalidLoginIDError) Error() string {
	return "invalid login id"
}

// MalformedDirectiveError reports a server directive missing or carrying
// an invalid required field.
type MalformedDirectiveError struct {
	Field string
}

func (e *MalformedDirectiveError) Error() string {
	return fmt.Sprintf("malformed server directive: field %q missing or invalid", e.Field)
}

// UserError is a failure meant to be shown to the end user. UserMessage
// is always localized by the time the caller sees it.
type UserError struct {
	Code        string
	UserMessage string
	Err         error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.UserMessage)
}

func (e *UserError) Unwrap() error { return e.Err }

// IntegrationError wraps a failure raised by a host-supplied identity
// platform adapter.
type IntegrationError struct {
	Err error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("identity platform integration failed: %v", e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// WebAppMismatchError reports a browser callback that returned to a URL
// other than the one the hand-off was launched with.
type WebAppMismatchError struct {
	Expected string
	Got      string
}

func (e *WebAppMismatchError) Error() string {
	return fmt.Sprintf("browser callback url %q does not match expected %q", e.Got, e.Expected)
}

// Stable user error codes. ErrorCodeUnspecified covers every server code
// not in this table.
const (
	ErrorCodeAccountNotFound        = "AccountNotFound"
	ErrorCodeAccountIsBlocked       = "AccountIsBlocked"
	ErrorCodeWrongCodeEntered       = "WrongCodeEntered"
	ErrorCodeWrongCodeLimitReached  = "WrongCodeLimitReached"
	ErrorCodeSendCodeLimitReached   = "SendCodeLimitReached"
	ErrorCodeUserNotFound           = "UserNotFound"
	ErrorCodeRequiresBiometricInput = "RequiresBiometricInput"
	ErrorCodeUserAlreadyExists      = "UserAlreadyExists"
	ErrorCodeFlowIsFinished         = "FlowIsFinished"
	ErrorCodeUnspecified            = "Unspecified"
)

var knownErrorCodes = []string{
	ErrorCodeAccountNotFound,
	ErrorCodeAccountIsBlocked,
	ErrorCodeWrongCodeEntered,
	ErrorCodeWrongCodeLimitReached,
	ErrorCodeSendCodeLimitReached,
	ErrorCodeUserNotFound,
	ErrorCodeRequiresBiometricInput,
	ErrorCodeUserAlreadyExists,
	ErrorCodeFlowIsFinished,
}

// normalizeErrorCode maps a server error code onto the stable set. The
// server is not consistent about casing, so codes match case-insensitively
// and normalize to the canonical spelling.
func normalizeErrorCode(code string) string {
	for _, known := range knownErrorCodes {
		if strings.EqualFold(code, known) {
			return known
		}
	}
	return ErrorCodeUnspecified
}

// DirectiveError is an error object carried inside a server directive.
// It is resolved into a localized UserError only at the terminal step.
type DirectiveError struct {
	Code         string
	UserMessage  string
	Message      string
	FlowFinished bool
}

func (e *DirectiveError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server reported %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server reported %s", e.Code)
}
