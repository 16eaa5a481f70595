// Package fido builds the canonical WebAuthn options documents handed to
// the platform-authenticator capability, and classifies its failures.
package fido

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// optionsTimeoutMillis bounds a single authenticator interaction.
const optionsTimeoutMillis = 2 * 60 * 1000

// ErrNoCredential signals that the platform has no credential matching the
// request. Authenticator implementations must wrap this into the error they
// return when a login prompt finds nothing to authenticate against.
var ErrNoCredential = errors.New("fido: no credential available")

// Error is a structured authenticator failure, reported back to the server
// so it can pick a fallback directive.
type Error struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("fido: %s (%s): %s", e.Name, e.Type, e.Message)
}

// NewChallenge returns 32 fresh random bytes, base64url-no-pad.
func NewChallenge() (string, error) {
	return randomToken()
}

// NewUserID returns 32 fresh random bytes, base64url-no-pad. The protocol
// never reuses server-side user handles for credential creation.
func NewUserID() (string, error) {
	return randomToken()
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RegisterOptions produces the credential-creation options document.
// https://w3c.github.io/webauthn/#dictionary-makecredentialoptions
func RegisterOptions(challenge, rpID, rpName, userID, userName, userDisplayName string, excludeCredIDs []string) (string, error) {
	challengeBytes, err := decodeBase64URL(challenge)
	if err != nil {
		return "", fmt.Errorf("fido: invalid challenge: %w", err)
	}
	exclude, err := credentialDescriptors(excludeCredIDs)
	if err != nil {
		return "", err
	}

	requireResidentKey := false
	options := protocol.PublicKeyCredentialCreationOptions{
		Challenge: challengeBytes,
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: rpName},
			ID:               rpID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: userName},
			DisplayName:      userDisplayName,
			ID:               userID,
		},
		Parameters: []protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
		},
		Timeout:               optionsTimeoutMillis,
		Attestation:           protocol.PreferNoAttestation,
		CredentialExcludeList: exclude,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			RequireResidentKey:      &requireResidentKey,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationRequired,
		},
	}

	raw, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("fido: failed to encode register options: %w", err)
	}
	return string(raw), nil
}

// LoginOptions produces the credential-assertion options document.
// https://w3c.github.io/webauthn/#dictionary-assertion-options
func LoginOptions(challenge, rpID string, allowCredIDs []string) (string, error) {
	challengeBytes, err := decodeBase64URL(challenge)
	if err != nil {
		return "", fmt.Errorf("fido: invalid challenge: %w", err)
	}
	allowed, err := credentialDescriptors(allowCredIDs)
	if err != nil {
		return "", err
	}

	options := protocol.PublicKeyCredentialRequestOptions{
		Challenge:          challengeBytes,
		Timeout:            optionsTimeoutMillis,
		RelyingPartyID:     rpID,
		UserVerification:   protocol.VerificationRequired,
		AllowedCredentials: allowed,
	}

	raw, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("fido: failed to encode login options: %w", err)
	}
	return string(raw), nil
}

// StructuredError normalizes any authenticator failure into the wire form
// the server expects.
func StructuredError(err error) Error {
	var fidoErr *Error
	if errors.As(err, &fidoErr) {
		return *fidoErr
	}
	structured := Error{Name: "AuthenticatorError", Message: "Unknown"}
	if err != nil {
		structured.Message = err.Error()
	}
	if errors.Is(err, ErrNoCredential) {
		structured.Name = "NoCredentialError"
	}
	return structured
}

func credentialDescriptors(credIDs []string) ([]protocol.CredentialDescriptor, error) {
	descriptors := make([]protocol.CredentialDescriptor, 0, len(credIDs))
	for _, id := range credIDs {
		raw, err := decodeBase64URL(id)
		if err != nil {
			return nil, fmt.Errorf("fido: invalid credential id %q: %w", id, err)
		}
		descriptors = append(descriptors, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: raw,
		})
	}
	return descriptors, nil
}

// decodeBase64URL accepts both padded and unpadded base64url input; servers
// are inconsistent about padding credential ids.
func decodeBase64URL(s string) ([]byte, error) {
	if raw, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
