// Package keyless is a client-side engine for a server-orchestrated
// passwordless authentication protocol. A flow starts with a request to
// the orchestration server; the server answers with a directive naming
// the next required action (collect an identifier, prompt for a
// passkey, verify a one-time code, or hand off to a browser), and the
// engine executes directives until the server reports a terminal
// outcome.
//
// The Client bundles configuration and shared services; each call to
// StartFlow runs one independent attempt and yields a flow.Handle the
// host drives through its prompt channel.
package keyless

import (
	"context"

	"github.com/keyless-sdk/keyless-go/flow"
	"github.com/keyless-sdk/keyless-go/loginid"
)

// Version is the SDK version reported in the User-Agent.
const Version = "1.0.0"

// FlowType aliases re-exported for host convenience.
const (
	Login    = flow.Login
	Register = flow.Register
	Manage   = flow.Manage
)

// StartLogin begins a login flow, pre-filling the last used identifier
// when seedLoginID is empty.
func (c *Client) StartLogin(ctx context.Context, seedLoginID string) (*flow.Handle, error) {
	return c.StartFlow(ctx, flow.Login, seedLoginID)
}

// StartRegister begins a registration flow.
func (c *Client) StartRegister(ctx context.Context, seedLoginID string) (*flow.Handle, error) {
	return c.StartFlow(ctx, flow.Register, seedLoginID)
}

// LastLoginID returns the identifier the previous successful flow
// finished with, or empty.
func (c *Client) LastLoginID(ctx context.Context) string {
	return c.logins.LastLoginID(ctx)
}

// LoginIDData returns the stored metadata for an identifier.
func (c *Client) LoginIDData(ctx context.Context, id string) loginid.Data {
	return c.logins.Data(ctx, id)
}
