package flow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/keyless-sdk/keyless-go/loginid"
)

func startOTPStep(t *testing.T, f *Flow, st *otpStep) (<-chan step, <-chan error) {
	t.Helper()
	nextCh := make(chan step, 1)
	errCh := make(chan error, 1)
	go func() {
		next, err := st.run(context.Background(), f)
		nextCh <- next
		errCh <- err
	}()
	return nextCh, errCh
}

func nextOTPPrompt(t *testing.T, f *Flow) *OTPPrompt {
	t.Helper()
	select {
	case p := <-f.prompts:
		otp, ok := p.(*OTPPrompt)
		if !ok {
			t.Fatalf("prompt = %T, want *OTPPrompt", p)
		}
		return otp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OTP prompt")
		return nil
	}
}

func TestOTPIncompleteCodeNeverHitsNetwork(t *testing.T) {
	tr := &fakeTransport{
		handler: func(_, _ string, body []byte) ([]byte, error) {
			var req otpVerifyRequest
			if err := json.Unmarshal(body, &req); err != nil {
				t.Fatalf("invalid request body: %v", err)
			}
			if req.Code != "1234" {
				t.Errorf("code = %q, want 1234", req.Code)
			}
			return stepEnvelope(t, "success", nil), nil
		},
	}
	f := newTestFlow(t, Config{}, tr, nil)
	st := &otpStep{url: "https://server.test/otp", restartURL: "r", resendURL: "s", length: 4, channel: OTPChannelEmail, purpose: OTPPurposeVerify}
	nextCh, errCh := startOTPStep(t, f, st)

	// Three digits against a four digit code: no request is sent.
	nextOTPPrompt(t, f).Enter("123")
	prompt := nextOTPPrompt(t, f)
	if tr.callCount() != 0 {
		t.Fatalf("network calls after short code = %d, want 0", tr.callCount())
	}

	prompt.Enter("1234")
	if err := <-errCh; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if next := <-nextCh; next == nil {
		t.Fatal("expected a next step")
	}
	if tr.callCount() != 1 {
		t.Errorf("network calls = %d, want exactly 1", tr.callCount())
	}
}

func TestOTPNotYouWithoutRegistrationCancelsWithoutNetwork(t *testing.T) {
	tr := &fakeTransport{}
	f := newTestFlow(t, Config{EnableRegistrationFromLogin: false}, tr, nil)
	st := &otpStep{url: "u", restartURL: "r", resendURL: "s", length: 4}
	_, errCh := startOTPStep(t, f, st)

	nextOTPPrompt(t, f).NotYou()

	err := <-errCh
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected CancelledError, got %v", err)
	}
	if cancelled.Step != StepTagOTP {
		t.Errorf("step tag = %q, want %q", cancelled.Step, StepTagOTP)
	}
	if tr.callCount() != 0 {
		t.Errorf("network calls = %d, want 0", tr.callCount())
	}
}

func TestOTPWrongCodeKeepsStepAlive(t *testing.T) {
	attempts := 0
	tr := &fakeTransport{
		handler: func(_, _ string, body []byte) ([]byte, error) {
			attempts++
			if attempts == 1 {
				return errorEnvelope(t, ErrorCodeWrongCodeEntered, "Wrong code.", false), nil
			}
			return stepEnvelope(t, "success", nil), nil
		},
	}
	f := newTestFlow(t, Config{}, tr, nil)
	st := &otpStep{url: "u", restartURL: "r", resendURL: "s", length: 4}
	nextCh, errCh := startOTPStep(t, f, st)

	nextOTPPrompt(t, f).Enter("0000")

	retry := nextOTPPrompt(t, f)
	if !retry.WrongCode {
		t.Error("WrongCode not set after rejection")
	}
	var de *DirectiveError
	if !errors.As(retry.Err, &de) || de.Code != ErrorCodeWrongCodeEntered {
		t.Errorf("prompt error = %v, want WrongCodeEntered", retry.Err)
	}

	retry.Enter("1234")
	if err := <-errCh; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, ok := (<-nextCh).(*successStep); !ok {
		t.Error("expected successStep after correct code")
	}
}

func TestOTPMetricsNameTheSurface(t *testing.T) {
	attempts := 0
	tr := &fakeTransport{
		handler: func(_, _ string, _ []byte) ([]byte, error) {
			attempts++
			if attempts == 1 {
				return errorEnvelope(t, ErrorCodeWrongCodeEntered, "Wrong code.", false), nil
			}
			return stepEnvelope(t, "success", nil), nil
		},
	}
	f := newTestFlow(t, Config{}, tr, nil)
	sink := &recordSink{}
	f.events = sink
	st := &otpStep{url: "u", restartURL: "r", resendURL: "s", length: 4, purpose: OTPPurposeVerify}
	nextCh, errCh := startOTPStep(t, f, st)

	nextOTPPrompt(t, f).Enter("0000")
	nextOTPPrompt(t, f).Enter("1234")
	if err := <-errCh; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	<-nextCh

	wrong, ok := sink.find("[OTP Code Verification] - Entered Wrong Verification Code")
	if !ok {
		t.Fatalf("missing wrong-code metric, actions = %v", sink.actions())
	}
	if wrong.ErrorCode != ErrorCodeWrongCodeEntered {
		t.Errorf("errorCode = %q", wrong.ErrorCode)
	}
	if _, ok := sink.find("[OTP Code Verification] - Entered Correct Verification Code"); !ok {
		t.Errorf("missing correct-code metric, actions = %v", sink.actions())
	}
}

func TestOTPWrongCodeCaseVariantIsRecognized(t *testing.T) {
	tr := &fakeTransport{
		handler: func(_, _ string, _ []byte) ([]byte, error) {
			return errorEnvelope(t, "wrongCodeEntered", "Wrong code.", false), nil
		},
	}
	f := newTestFlow(t, Config{}, tr, nil)
	st := &otpStep{url: "u", restartURL: "r", resendURL: "s", length: 4}
	_, errCh := startOTPStep(t, f, st)

	nextOTPPrompt(t, f).Enter("0000")

	retry := nextOTPPrompt(t, f)
	if !retry.WrongCode {
		t.Error("case-variant wrong-code rejection must set WrongCode")
	}
	retry.Cancel()
	<-errCh
}

func TestOTPResendLockedUntilTimerExpires(t *testing.T) {
	tr := &fakeTransport{}
	f := newTestFlow(t, Config{}, tr, nil)
	st := &otpStep{url: "u", restartURL: "r", resendURL: "https://server.test/resend", length: 4}
	_, errCh := startOTPStep(t, f, st)

	first := nextOTPPrompt(t, f)
	if time.Until(first.ResendAvailableAt) <= 0 {
		t.Error("resend should start locked")
	}
	first.Resend()

	// The early resend is ignored: the step re-prompts without any
	// network call.
	second := nextOTPPrompt(t, f)
	if tr.callCount() != 0 {
		t.Errorf("network calls = %d, want 0", tr.callCount())
	}
	second.Cancel()
	<-errCh
}

func TestOTPNotYouRestartsViaServer(t *testing.T) {
	tr := &fakeTransport{
		handler: func(_, url string, body []byte) ([]byte, error) {
			if url != "https://server.test/restart" {
				t.Errorf("restart posted to %q", url)
			}
			var req otpRestartRequest
			if err := json.Unmarshal(body, &req); err != nil {
				t.Fatalf("invalid request body: %v", err)
			}
			var raw map[string]json.RawMessage
			if err := json.Unmarshal(body, &raw); err != nil {
				t.Fatalf("invalid request body: %v", err)
			}
			if _, present := raw["loginId"]; present {
				t.Error("restart request must omit the login id")
			}
			return stepEnvelope(t, "Starting", map[string]any{"url": "https://server.test/id"}), nil
		},
	}
	f := newTestFlow(t, Config{EnableRegistrationFromLogin: true}, tr, nil)
	st := &otpStep{url: "u", restartURL: "https://server.test/restart", resendURL: "s", length: 4}
	nextCh, errCh := startOTPStep(t, f, st)

	nextOTPPrompt(t, f).NotYou()

	if err := <-errCh; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, ok := (<-nextCh).(*idCollectStep); !ok {
		t.Error("expected idCollectStep after restart")
	}
}

func TestOTPNotYouAfterFinishedFlowStartsOver(t *testing.T) {
	attempts := 0
	tr := &fakeTransport{
		handler: func(_, _ string, _ []byte) ([]byte, error) {
			attempts++
			return errorEnvelope(t, ErrorCodeWrongCodeLimitReached, "Too many tries.", true), nil
		},
	}
	f := newTestFlow(t, Config{EnableRegistrationFromLogin: true}, tr, nil)
	f.session.LoginID = loginid.New(loginid.KindEmail, "user@example.com")
	f.session.UseLoginID = true
	st := &otpStep{url: "u", restartURL: "https://server.test/restart", resendURL: "s", length: 4}
	nextCh, errCh := startOTPStep(t, f, st)

	nextOTPPrompt(t, f).Enter("0000")
	retry := nextOTPPrompt(t, f)
	retry.NotYou()

	if err := <-errCh; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, ok := (<-nextCh).(*initStep); !ok {
		t.Error("expected a fresh initStep")
	}
	if f.session.UseLoginID {
		t.Error("login id must be dropped on restart")
	}
	if attempts != 1 {
		t.Errorf("network calls = %d, want 1 (no restart POST)", attempts)
	}
}
