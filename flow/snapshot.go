package flow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keyless-sdk/keyless-go/loginid"
)

// Snapshot captures a session and the live step's resumption data so a
// host can persist a mid-flight flow across process restarts. The
// engine only defines the serialized form; storing it is the host's
// job.
type Snapshot struct {
	Session  snapshotSession `json:"session"`
	Step     string          `json:"step"`
	StepData json.RawMessage `json:"stepData,omitempty"`
}

type snapshotSession struct {
	FlowType         string `json:"flowType"`
	Verifier         string `json:"verifier"`
	LoginIDKind      string `json:"loginIdKind,omitempty"`
	LoginIDValue     string `json:"loginIdValue,omitempty"`
	UseLoginID       bool   `json:"useLoginId"`
	QR               bool   `json:"qr"`
	PasskeyAutofill  bool   `json:"passkeyAutofill"`
	ContextToken     string `json:"context,omitempty"`
	ExpirationMillis int64  `json:"expiration,omitempty"`
	StopURL          string `json:"stopUrl,omitempty"`
	FinalStatusURL   string `json:"finalStatusUrl,omitempty"`
}

// Encode serializes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, fmt.Errorf("invalid flow snapshot: %w", err)
	}
	return s, nil
}

func (f *Flow) snapshot() Snapshot {
	s := f.session
	// The flow goroutine may be applying a server response while the
	// host snapshots; the mutable fields are read under the session lock.
	s.mu.Lock()
	snap := Snapshot{
		Session: snapshotSession{
			FlowType:         s.FlowType.String(),
			Verifier:         s.Verifier,
			LoginIDKind:      string(s.LoginID.Kind),
			LoginIDValue:     s.LoginID.Value,
			UseLoginID:       s.UseLoginID,
			QR:               s.QR,
			PasskeyAutofill:  s.PasskeyAutofill,
			ContextToken:     s.ContextToken,
			ExpirationMillis: s.ExpirationMillis,
			StopURL:          s.StopURL,
			FinalStatusURL:   s.FinalStatusURL,
		},
	}
	s.mu.Unlock()

	var cur step
	if wrapped, ok := f.current.Load().(currentStep); ok {
		cur = wrapped.s
	}
	if cur == nil {
		snap.Step = KindInit.String()
		return snap
	}
	snap.Step = cur.kind().String()

	var data any
	switch st := cur.(type) {
	case *idCollectStep:
		data = map[string]string{"url": st.url}
	case *fidoStep:
		data = map[string]any{
			"operation":        string(st.op),
			"url":              st.url,
			"relyingPartyId":   st.rpID,
			"relyingPartyName": st.rpName,
			"userName":         st.userName,
			"userDisplayName":  st.userDisplayName,
			"credsIds":         st.credIDs,
		}
	case *otpStep:
		data = map[string]any{
			"url":              st.url,
			"restartUrl":       st.restartURL,
			"resendUrl":        st.resendURL,
			"otpLength":        st.length,
			"verificationType": string(st.channel),
			"purpose":          string(st.purpose),
		}
	case *webAppStep:
		data = map[string]string{"url": st.url}
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			snap.StepData = raw
		}
	}
	return snap
}

// restore rebuilds the session and the step to resume from. Terminal
// snapshots cannot resume; unrecognized step names restart the attempt.
func (s Snapshot) restore() (*Session, step, error) {
	if s.Session.Verifier == "" {
		return nil, nil, errors.New("flow: snapshot has no session verifier")
	}
	if s.Step == KindDone.String() || (s.Step == KindSuccess.String() && s.Session.FinalStatusURL == "") {
		return nil, nil, errors.New("flow: snapshot is not resumable")
	}

	var flowType Type
	switch s.Session.FlowType {
	case Register.String():
		flowType = Register
	case Manage.String():
		flowType = Manage
	default:
		flowType = Login
	}

	session := &Session{
		FlowType:         flowType,
		Verifier:         s.Session.Verifier,
		LoginID:          loginid.New(loginid.Kind(s.Session.LoginIDKind), s.Session.LoginIDValue),
		UseLoginID:       s.Session.UseLoginID,
		QR:               s.Session.QR,
		PasskeyAutofill:  s.Session.PasskeyAutofill,
		ContextToken:     s.Session.ContextToken,
		ExpirationMillis: s.Session.ExpirationMillis,
		StopURL:          s.Session.StopURL,
		FinalStatusURL:   s.Session.FinalStatusURL,
	}

	var resumed step
	switch s.Step {
	case KindIDCollect.String():
		var data struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(s.StepData, &data); err != nil || data.URL == "" {
			return nil, nil, errors.New("flow: snapshot step data is invalid")
		}
		resumed = &idCollectStep{url: data.URL}
	case KindFidoRegister.String(), KindFidoLogin.String():
		var data struct {
			Operation       string   `json:"operation"`
			URL             string   `json:"url"`
			RelyingPartyID  string   `json:"relyingPartyId"`
			RelyingParty    string   `json:"relyingPartyName"`
			UserName        string   `json:"userName"`
			UserDisplayName string   `json:"userDisplayName"`
			CredsIDs        []string `json:"credsIds"`
		}
		if err := json.Unmarshal(s.StepData, &data); err != nil || data.URL == "" {
			return nil, nil, errors.New("flow: snapshot step data is invalid")
		}
		op := fidoLogin
		if data.Operation == string(fidoRegister) {
			op = fidoRegister
		}
		resumed = &fidoStep{
			op:              op,
			url:             data.URL,
			rpID:            data.RelyingPartyID,
			rpName:          data.RelyingParty,
			userName:        data.UserName,
			userDisplayName: data.UserDisplayName,
			credIDs:         data.CredsIDs,
		}
	case KindOTP.String():
		var data struct {
			URL              string `json:"url"`
			RestartURL       string `json:"restartUrl"`
			ResendURL        string `json:"resendUrl"`
			OTPLength        int    `json:"otpLength"`
			VerificationType string `json:"verificationType"`
			Purpose          string `json:"purpose"`
		}
		if err := json.Unmarshal(s.StepData, &data); err != nil || data.URL == "" {
			return nil, nil, errors.New("flow: snapshot step data is invalid")
		}
		channel := OTPChannelEmail
		if data.VerificationType == string(OTPChannelSMS) {
			channel = OTPChannelSMS
		}
		purpose := OTPPurposeSign
		if data.Purpose == string(OTPPurposeVerify) {
			purpose = OTPPurposeVerify
		}
		length := data.OTPLength
		if length <= 0 {
			length = defaultOTPLength
		}
		resumed = &otpStep{
			url:        data.URL,
			restartURL: data.RestartURL,
			resendURL:  data.ResendURL,
			length:     length,
			channel:    channel,
			purpose:    purpose,
		}
	case KindWebApp.String():
		var data struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(s.StepData, &data); err != nil || data.URL == "" {
			return nil, nil, errors.New("flow: snapshot step data is invalid")
		}
		resumed = &webAppStep{url: data.URL}
	case KindSuccess.String():
		resumed = &successStep{}
	default:
		resumed = &initStep{}
	}
	return session, resumed, nil
}
