package flow

import (
	"context"
	"time"

	"github.com/keyless-sdk/keyless-go/config"
	"github.com/keyless-sdk/keyless-go/loginid"
)

// Prompt is a request for user interaction, delivered on the handle's
// prompt channel. Each prompt accepts exactly one answer; extra answers
// are ignored. The concrete type says what to render.
type Prompt interface {
	// Step reports which step issued the prompt.
	Step() StepKind
}

// IDCollectPrompt asks the user for a login identifier.
type IDCollectPrompt struct {
	// Type says what identifier the application uses.
	Type loginid.Kind
	// PhoneCodes is the dial code list for phone number collection.
	PhoneCodes []config.PhoneCode
	// Err carries the recoverable failure of a previous attempt, nil on
	// the first prompt. The step stays alive; the user can retry.
	Err error

	reply chan idCollectReply
}

type idCollectReply struct {
	cancelled bool
	value     string
	dialCode  string
}

func (p *IDCollectPrompt) Step() StepKind { return KindIDCollect }

// Submit answers the prompt with the entered identifier. For phone
// numbers dialCode is prefixed to the value.
func (p *IDCollectPrompt) Submit(value, dialCode string) {
	p.answer(idCollectReply{value: value, dialCode: dialCode})
}

// Cancel abandons the flow from this prompt.
func (p *IDCollectPrompt) Cancel() {
	p.answer(idCollectReply{cancelled: true})
}

func (p *IDCollectPrompt) answer(r idCollectReply) {
	select {
	case p.reply <- r:
	default:
	}
}

// OTPChannel says how the one-time code was delivered.
type OTPChannel string

const (
	OTPChannelEmail OTPChannel = "email"
	OTPChannelSMS   OTPChannel = "sms"
)

// OTPPurpose distinguishes signing in with a code from verifying a
// login identifier.
type OTPPurpose string

const (
	OTPPurposeSign   OTPPurpose = "sign"
	OTPPurposeVerify OTPPurpose = "verify"
)

// OTPPrompt asks the user for a one-time code.
type OTPPrompt struct {
	Length  int
	Channel OTPChannel
	Purpose OTPPurpose
	// ResendAvailableAt is when the resend affordance unlocks.
	ResendAvailableAt time.Time
	// Err carries the recoverable failure of a previous attempt.
	Err error
	// WrongCode is set when Err was a wrong-code rejection; the entered
	// code has been cleared and the user should type a new one.
	WrongCode bool

	reply chan otpReply
}

type otpAction int

const (
	otpSubmit otpAction = iota
	otpResend
	otpNotYou
	otpCancel
)

type otpReply struct {
	action otpAction
	code   string
}

func (p *OTPPrompt) Step() StepKind { return KindOTP }

// Enter answers with a complete code. Codes whose length differs from
// Length are ignored without a network call.
func (p *OTPPrompt) Enter(code string) {
	p.answer(otpReply{action: otpSubmit, code: code})
}

// Resend requests a fresh code. Ignored while the resend timer has not
// expired yet.
func (p *OTPPrompt) Resend() {
	p.answer(otpReply{action: otpResend})
}

// NotYou reports that the identifier the code was sent to is not the
// current user, restarting or cancelling the flow per server policy.
func (p *OTPPrompt) NotYou() {
	p.answer(otpReply{action: otpNotYou})
}

// Cancel abandons the flow from this prompt.
func (p *OTPPrompt) Cancel() {
	p.answer(otpReply{action: otpCancel})
}

func (p *OTPPrompt) answer(r otpReply) {
	select {
	case p.reply <- r:
	default:
	}
}

// WebAppPrompt hands the flow to an external browser session. The host
// opens LaunchURL and reports the single redirect callback.
type WebAppPrompt struct {
	LaunchURL string

	reply chan webAppReply
}

type webAppReply struct {
	callbackURL string
	ok          bool
}

func (p *WebAppPrompt) Step() StepKind { return KindWebApp }

// Complete reports the redirect callback URL the browser returned to.
func (p *WebAppPrompt) Complete(callbackURL string) {
	p.answer(webAppReply{callbackURL: callbackURL, ok: true})
}

// Dismiss reports that the user backed out of the browser session.
func (p *WebAppPrompt) Dismiss() {
	p.answer(webAppReply{})
}

func (p *WebAppPrompt) answer(r webAppReply) {
	select {
	case p.reply <- r:
	default:
	}
}

// sendPrompt delivers a prompt to the handle's channel and waits for an
// answer slot to be created. The reply channel is buffered so a late
// answer after cancellation never blocks the host.
func (f *Flow) sendPrompt(ctx context.Context, p Prompt) error {
	select {
	case f.prompts <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
