package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/keyless-sdk/keyless-go/event"
	"github.com/keyless-sdk/keyless-go/loginid"
	"github.com/keyless-sdk/keyless-go/transport"
)

// resendDelay is how long the resend affordance stays locked after the
// step starts and after each successful resend.
const resendDelay = 15 * time.Second

const defaultOTPLength = 4

// otpStep collects and verifies a one-time code. Wrong codes and
// transient failures keep the step alive with the entered code cleared.
type otpStep struct {
	url        string
	restartURL string
	resendURL  string
	length     int
	channel    OTPChannel
	purpose    OTPPurpose
}

func (s *otpStep) kind() StepKind { return KindOTP }

// Three server-side directive names share this one step.
func matchOTP(d directive, _ *Session) bool {
	return typeIs(d, "linkWithCode") ||
		typeIs(d, "loginIDAuthorization") ||
		typeIs(d, "verifyLoginID")
}

func newOTPStep(d directive, _ *Session) (step, error) {
	var data struct {
		URL              string `json:"url"`
		RestartURL       string `json:"restartUrl"`
		ResendURL        string `json:"resendUrl"`
		OTPLength        int    `json:"otpLength"`
		VerificationType string `json:"verificationType"`
	}
	if err := json.Unmarshal(d.Data, &data); err != nil {
		return nil, &MalformedDirectiveError{Field: "data"}
	}
	if data.URL == "" {
		return nil, &MalformedDirectiveError{Field: "url"}
	}
	if data.RestartURL == "" {
		return nil, &MalformedDirectiveError{Field: "restartUrl"}
	}
	if data.ResendURL == "" {
		return nil, &MalformedDirectiveError{Field: "resendUrl"}
	}

	length := data.OTPLength
	if length <= 0 {
		length = defaultOTPLength
	}

	channel := OTPChannelEmail
	if strings.EqualFold(data.VerificationType, "sms") {
		channel = OTPChannelSMS
	}

	purpose := OTPPurposeSign
	if typeIs(d, "verifyLoginID") {
		purpose = OTPPurposeVerify
	}

	return &otpStep{
		url:        data.URL,
		restartURL: data.RestartURL,
		resendURL:  data.ResendURL,
		length:     length,
		channel:    channel,
		purpose:    purpose,
	}, nil
}

type otpVerifyRequest struct {
	Code string `json:"code"`
}

type otpRestartRequest struct {
	// The login id is intentionally omitted so the restarted flow asks
	// for it again instead of reusing the one the code was sent to.
	SupportsFido2 bool `json:"supportsFido2"`
}

func (s *otpStep) run(ctx context.Context, f *Flow) (step, error) {
	resendAt := time.Now().Add(resendDelay)
	var lastErr error
	wrongCode := false

	for {
		prompt := &OTPPrompt{
			Length:            s.length,
			Channel:           s.channel,
			Purpose:           s.purpose,
			ResendAvailableAt: resendAt,
			Err:               lastErr,
			WrongCode:         wrongCode,
			reply:             make(chan otpReply, 1),
		}
		if err := f.sendPrompt(ctx, prompt); err != nil {
			return nil, err
		}

		var reply otpReply
		select {
		case reply = <-prompt.reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		switch reply.action {
		case otpCancel:
			return nil, &CancelledError{Step: StepTagOTP}

		case otpSubmit:
			// Incomplete codes never hit the network.
			if len(reply.code) != s.length {
				continue
			}
			next, err := f.postForStep(ctx, s.url, otpVerifyRequest{Code: reply.code})
			if err != nil {
				wrongCode = isWrongCode(err)
				if code, ok := wrongCodeMetric(err); ok {
					f.emitMetric(event.TypeTrack, s.metricAction("Entered Wrong Verification Code"), "", code)
				}
				if otpRecoverable(err) {
					lastErr = err
					continue
				}
				return nil, err
			}
			f.emit(event.TypeTrack, s.metricAction("Entered Correct Verification Code"))
			return next, nil

		case otpResend:
			if time.Now().Before(resendAt) {
				continue
			}
			f.emit(event.TypeClick, "Clicked Resend")
			// A resend only re-requests a code; any directive in the
			// response body besides confirmation is ignored.
			if _, err := f.post(ctx, s.resendURL, struct{}{}); err != nil {
				lastErr = err
				continue
			}
			resendAt = time.Now().Add(resendDelay)
			lastErr = nil
			wrongCode = false

		case otpNotYou:
			f.emit(event.TypeClick, "Clicked Not You")
			if !f.cfg.EnableRegistrationFromLogin {
				return nil, &CancelledError{Step: StepTagOTP}
			}
			// The server already closed this flow; a restart request
			// would be rejected, so start over without the login id.
			if flowAlreadyFinished(lastErr) {
				f.session.setLoginID(loginid.Empty, false)
				return &initStep{}, nil
			}
			return f.postForStep(ctx, s.restartURL, otpRestartRequest{
				SupportsFido2: f.supportsFido(),
			})
		}
	}
}

// metricName distinguishes the two OTP surfaces in analytics.
func (s *otpStep) metricName() string {
	if s.purpose == OTPPurposeVerify {
		return "OTP Code Verification"
	}
	return "Fallback OTP Code"
}

func (s *otpStep) metricAction(text string) string {
	return "[" + s.metricName() + "] - " + text
}

// wrongCodeMetric reports the code to attach to a wrong-code track
// event. A limit-reached rejection counts as a wrong code here even
// though only a plain wrong code re-arms the prompt.
func wrongCodeMetric(err error) (string, bool) {
	var de *DirectiveError
	if !errors.As(err, &de) {
		return "", false
	}
	if strings.EqualFold(de.Code, ErrorCodeWrongCodeEntered) ||
		strings.EqualFold(de.Code, ErrorCodeWrongCodeLimitReached) {
		return de.Code, true
	}
	return "", false
}

func isWrongCode(err error) bool {
	var de *DirectiveError
	return errors.As(err, &de) && strings.EqualFold(de.Code, ErrorCodeWrongCodeEntered)
}

// otpRecoverable keeps the step alive for transport failures and every
// server rejection, including ones flagging the flow as finished: the
// user still gets to read the error and pick "not you" or cancel.
func otpRecoverable(err error) bool {
	var te *transport.Error
	if errors.As(err, &te) {
		return true
	}
	var de *DirectiveError
	return errors.As(err, &de)
}

func flowAlreadyFinished(err error) bool {
	var de *DirectiveError
	if !errors.As(err, &de) {
		return false
	}
	return de.FlowFinished || strings.EqualFold(de.Code, ErrorCodeFlowIsFinished)
}
