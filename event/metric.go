// Package event defines the structured telemetry the flow engine emits per
// step transition, plus sink implementations the host can choose from.
package event

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Category groups metrics by the kind of flow that produced them.
type Category string

const (
	CategoryRegistration Category = "registration"
	CategoryLogin        Category = "login"
	CategoryLink         Category = "link"
	CategoryRecover      Category = "recover"
	CategoryGeneral      Category = "general"
)

// Type is the kind of user/system event a metric records.
type Type string

const (
	TypeClick    Type = "click"
	TypeTrack    Type = "track"
	TypePageView Type = "pageView"
	TypeError    Type = "error"
)

// Metadata carries auxiliary metric fields.
type Metadata struct {
	ReturningUser bool `json:"returningUser"`
}

// Metric is one telemetry record. Login ids are never carried in the clear;
// LoginIDHash is base64url-no-pad SHA-256 of the raw identifier.
type Metric struct {
	ID              string   `json:"id"`
	Category        Category `json:"category"`
	Type            Type     `json:"type"`
	Action          string   `json:"action"`
	Context         string   `json:"context,omitempty"`
	Metadata        Metadata `json:"metadata"`
	LoginIDHash     string   `json:"loginId,omitempty"`
	Source          string   `json:"source,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	ErrorCode       string   `json:"errorCode,omitempty"`
	Component       string   `json:"component"`
	SourceTimestamp string   `json:"sourceTimestamp"`
}

// New creates a Metric with a fresh ID and the current timestamp.
func New(category Category, typ Type, action string) Metric {
	return Metric{
		ID:              uuid.NewString(),
		Category:        category,
		Type:            typ,
		Action:          action,
		Component:       "GoSdk",
		SourceTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// HashLoginID produces the privacy-preserving login id form used in metrics.
// Empty input yields an empty string.
func HashLoginID(loginID string) string {
	if loginID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(loginID))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
