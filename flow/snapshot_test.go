package flow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/keyless-sdk/keyless-go/loginid"
)

func TestSnapshotRoundTripThroughOTP(t *testing.T) {
	f := newTestFlow(t, Config{}, &fakeTransport{}, nil)
	f.session.FlowType = Register
	f.session.LoginID = loginid.New(loginid.KindEmail, "user@example.com")
	f.session.UseLoginID = true
	f.current.Store(currentStep{&otpStep{
		url:        "https://server.test/otp",
		restartURL: "https://server.test/restart",
		resendURL:  "https://server.test/resend",
		length:     6,
		channel:    OTPChannelSMS,
		purpose:    OTPPurposeVerify,
	}})

	raw, err := f.snapshot().Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	snap, err := DecodeSnapshot(raw)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}

	session, resumed, err := snap.restore()
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if session.FlowType != Register {
		t.Errorf("flow type = %v, want register", session.FlowType)
	}
	if session.Verifier != f.session.Verifier {
		t.Error("verifier changed across the round trip")
	}
	if session.LoginID.Value != "user@example.com" || !session.UseLoginID {
		t.Errorf("login id lost: %+v", session.LoginID)
	}
	if session.ContextToken != "ctx-token" || session.FinalStatusURL != "https://server.test/final" {
		t.Error("session URLs lost across the round trip")
	}

	otp, ok := resumed.(*otpStep)
	if !ok {
		t.Fatalf("resumed step = %T, want *otpStep", resumed)
	}
	if otp.url != "https://server.test/otp" || otp.length != 6 {
		t.Errorf("otp step data lost: %+v", otp)
	}
	if otp.channel != OTPChannelSMS || otp.purpose != OTPPurposeVerify {
		t.Errorf("otp channel/purpose lost: %q %q", otp.channel, otp.purpose)
	}
}

func TestSnapshotRoundTripFidoStep(t *testing.T) {
	f := newTestFlow(t, Config{}, &fakeTransport{}, nil)
	f.current.Store(currentStep{&fidoStep{
		op:      fidoLogin,
		url:     "https://server.test/fido",
		rpID:    "example.com",
		credIDs: []string{"cred-one", "cred-two"},
	}})

	raw, err := f.snapshot().Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	snap, err := DecodeSnapshot(raw)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	_, resumed, err := snap.restore()
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	fs, ok := resumed.(*fidoStep)
	if !ok {
		t.Fatalf("resumed step = %T, want *fidoStep", resumed)
	}
	if fs.op != fidoLogin || fs.rpID != "example.com" || len(fs.credIDs) != 2 {
		t.Errorf("fido step data lost: %+v", fs)
	}
}

func TestSnapshotRejectsTerminalStates(t *testing.T) {
	base := snapshotSession{FlowType: "login", Verifier: NewVerifier()}

	done := Snapshot{Session: base, Step: "done"}
	if _, _, err := done.restore(); err == nil {
		t.Error("a finished snapshot must not resume")
	}

	success := Snapshot{Session: base, Step: "success"}
	if _, _, err := success.restore(); err == nil {
		t.Error("a success snapshot without a final status url must not resume")
	}

	noVerifier := Snapshot{Session: snapshotSession{FlowType: "login"}, Step: "otp"}
	if _, _, err := noVerifier.restore(); err == nil {
		t.Error("a snapshot without a verifier must not resume")
	}
}

func TestSnapshotUnknownStepRestartsAttempt(t *testing.T) {
	snap := Snapshot{
		Session: snapshotSession{FlowType: "login", Verifier: NewVerifier()},
		Step:    "some-future-step",
	}
	_, resumed, err := snap.restore()
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if _, ok := resumed.(*initStep); !ok {
		t.Errorf("resumed step = %T, want *initStep", resumed)
	}
}

func TestResumeRunsRestoredStep(t *testing.T) {
	tr := &fakeTransport{
		handler: func(_, url string, _ []byte) ([]byte, error) {
			if url != "https://server.test/final" {
				t.Errorf("request to %q", url)
			}
			return finishedEnvelope(t, "registrationInfo"), nil
		},
	}
	verifier := NewVerifier()
	snap := Snapshot{
		Session: snapshotSession{
			FlowType:       "register",
			Verifier:       verifier,
			ContextToken:   "ctx",
			StopURL:        "https://server.test/stop",
			FinalStatusURL: "https://server.test/final",
		},
		Step: "success",
	}

	h, err := Resume(context.Background(), Config{InitURL: "u"}, Deps{Transport: tr}, snap)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := h.Result(ctx)
	if err != nil {
		t.Fatalf("flow failed: %v", err)
	}
	if resp.Payload.Type != PayloadRegistration {
		t.Errorf("payload type = %v, want registration", resp.Payload.Type)
	}
	var data map[string]any
	if err := json.Unmarshal(resp.Payload.Data, &data); err != nil {
		t.Fatalf("payload data does not parse: %v", err)
	}
}
