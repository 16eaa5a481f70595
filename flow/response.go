package flow

import (
	"encoding/json"
)

// PayloadType says what kind of data a finished flow produced.
type PayloadType int

const (
	// PayloadRegistration carries data describing a newly enrolled
	// credential, to be handed to the host's identity platform.
	PayloadRegistration PayloadType = iota
	// PayloadLogin carries session material for an authenticated user.
	PayloadLogin
)

func (t PayloadType) String() string {
	if t == PayloadRegistration {
		return "registration"
	}
	return "login"
}

// Payload is the terminal data block of a finished flow. Data and
// Metadata are opaque to the engine and forwarded to the host verbatim.
type Payload struct {
	Type     PayloadType
	Data     json.RawMessage
	Metadata json.RawMessage
}

// Response is the terminal success result of a flow.
type Response struct {
	LoginID   string
	Payload   Payload
	AuthType  string
	AuthToken string
}

type finalStatusBody struct {
	Status   string `json:"status"`
	FlowInfo struct {
		Event     string `json:"event"`
		AuthType  string `json:"authType"`
		AuthToken string `json:"authToken"`
	} `json:"flowInfo"`
	Payload struct {
		Type     string          `json:"type"`
		Data     json.RawMessage `json:"data"`
		Metadata json.RawMessage `json:"metadata"`
		LoginID  string          `json:"loginId"`
	} `json:"payload"`
}

// parseFinalStatus maps the final status response into a Response. The
// status must be "finished" and the payload type must be recognized.
func parseFinalStatus(raw []byte) (Response, error) {
	var body finalStatusBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Response{}, &MalformedDirectiveError{Field: "status"}
	}
	if body.Status != "finished" {
		return Response{}, &MalformedDirectiveError{Field: "status"}
	}

	var payloadType PayloadType
	switch body.Payload.Type {
	case "registrationInfo":
		payloadType = PayloadRegistration
	case "session":
		payloadType = PayloadLogin
	default:
		return Response{}, &MalformedDirectiveError{Field: "payload.type"}
	}

	return Response{
		LoginID: body.Payload.LoginID,
		Payload: Payload{
			Type:     payloadType,
			Data:     body.Payload.Data,
			Metadata: body.Payload.Metadata,
		},
		AuthType:  body.FlowInfo.AuthType,
		AuthToken: body.FlowInfo.AuthToken,
	}, nil
}
