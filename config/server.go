package config

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// ServerConfig is the per-application configuration the orchestration
// server publishes. It drives login id validation, locale negotiation
// and a few flow policies.
type ServerConfig struct {
	LoginID                     LoginIDSettings `json:"loginId"`
	SupportedLocales            []string        `json:"supportedLocales"`
	PhoneCodes                  []PhoneCode     `json:"phoneCodes"`
	PasskeysAutofillEnabled     bool            `json:"passkeysAutofillEnabled"`
	EnableRegistrationFromLogin bool            `json:"enableRegistrationFromLogin"`
	DisplayName                 string          `json:"displayName"`
	Origins                     []string        `json:"origin"`
}

// LoginIDSettings describes what kind of login id the application uses
// and how to validate it client-side.
type LoginIDSettings struct {
	Type  string `json:"type"`  // email, phoneNumber, userName
	Regex string `json:"regex"` // optional validation pattern
}

// Pattern compiles the configured validation regex. A missing or
// invalid pattern returns nil, deferring to the built-in defaults.
func (s LoginIDSettings) Pattern() *regexp.Regexp {
	if s.Regex == "" {
		return nil
	}
	re, err := regexp.Compile(s.Regex)
	if err != nil {
		return nil
	}
	return re
}

// PhoneCode is one entry of the dial code list served alongside phone
// number login ids.
type PhoneCode struct {
	Code     string `json:"code"`     // ISO country code, e.g. "NL"
	DialCode string `json:"dialCode"` // e.g. "+31"
	Name     string `json:"name"`
	Emoji    string `json:"emoji"`
}

// Getter fetches documents over HTTP. Satisfied by transport.Client.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// FetchServerConfig downloads and parses the published application
// configuration from the orchestration server.
func FetchServerConfig(ctx context.Context, getter Getter, serverURL string) (*ServerConfig, error) {
	raw, err := getter.Get(ctx, serverURL+"/client-config")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server configuration: %w", err)
	}

	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server configuration: %w", err)
	}
	return &cfg, nil
}
