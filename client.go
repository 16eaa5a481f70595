package keyless

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/keyless-sdk/keyless-go/config"
	"github.com/keyless-sdk/keyless-go/event"
	"github.com/keyless-sdk/keyless-go/flow"
	"github.com/keyless-sdk/keyless-go/locale"
	"github.com/keyless-sdk/keyless-go/loginid"
	"github.com/keyless-sdk/keyless-go/transport"
)

// Client owns the shared services flows run against: the transport, the
// locale service, the login id store and the event sink. One Client per
// application; flows are cheap and independent.
type Client struct {
	cfg *config.Config

	transport transport.Executor
	locales   *locale.Service
	logins    *loginid.Keeper
	events    event.Sink
	auth      flow.Authenticator

	deviceTags func() []string

	mu        sync.Mutex
	serverCfg *config.ServerConfig

	closers []io.Closer
}

// Option configures a Client.
type Option func(*Client)

// WithAuthenticator installs the platform passkey capability. Without
// one, flows report no passkey support and the server falls back to
// OTP or browser directives.
func WithAuthenticator(a flow.Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithEventSink installs the telemetry sink.
func WithEventSink(s event.Sink) Option {
	return func(c *Client) { c.events = s }
}

// WithTransport replaces the HTTP executor.
func WithTransport(t transport.Executor) Option {
	return func(c *Client) { c.transport = t }
}

// WithDeviceLanguages supplies the host's language tags for locale
// negotiation.
func WithDeviceLanguages(provider func() []string) Option {
	return func(c *Client) { c.deviceTags = provider }
}

// New builds a Client from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		c.transport = transport.NewClient(
			transport.WithUserAgent(cfg.App.UserAgent+"/"+Version),
			transport.WithAcceptLanguage(func() string {
				if c.locales == nil {
					return ""
				}
				return c.locales.CurrentTag()
			}),
		)
	}
	if c.events == nil {
		c.events = event.SlogSink{}
	}

	localeOpts := []locale.Option{}
	if cfg.Cache.Dir != "" {
		localeOpts = append(localeOpts, locale.WithCacheDir(cfg.Cache.Dir))
	}
	if c.deviceTags != nil {
		localeOpts = append(localeOpts, locale.WithDeviceTags(c.deviceTags))
	}
	c.locales = locale.New(cfg.LocaleURL(), c.transport, localeOpts...)

	store, err := c.buildStore()
	if err != nil {
		return nil, err
	}
	c.logins = loginid.NewKeeper(store)

	return c, nil
}

// storeConnectTimeout bounds the initial store connectivity check.
const storeConnectTimeout = 5 * time.Second

func (c *Client) buildStore() (loginid.Store, error) {
	switch c.cfg.Store.Backend {
	case "file":
		return loginid.NewFileStore(c.cfg.Store.FilePath)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
		defer cancel()
		store, err := loginid.NewRedisStore(ctx, c.cfg.Store.RedisURL, "keyless")
		if err != nil {
			return nil, fmt.Errorf("failed to connect login id store: %w", err)
		}
		c.closers = append(c.closers, store)
		return store, nil
	default:
		return loginid.NewMemoryStore(), nil
	}
}

// Bootstrap fetches the server-published application configuration and
// primes locale negotiation with the advertised locales. StartFlow
// calls it lazily when the host did not.
func (c *Client) Bootstrap(ctx context.Context) error {
	serverCfg, err := config.FetchServerConfig(ctx, c.transport, c.cfg.ServerURL())
	if err != nil {
		return err
	}
	c.locales.SetSupportedLocales(serverCfg.SupportedLocales)

	c.mu.Lock()
	c.serverCfg = serverCfg
	c.mu.Unlock()
	return nil
}

// ServerConfig returns the fetched server configuration, or nil before
// Bootstrap.
func (c *Client) ServerConfig() *config.ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCfg
}

// Locales exposes the locale service for host-side string resolution.
func (c *Client) Locales() *locale.Service {
	return c.locales
}

// StartFlow runs one flow attempt. When seedLoginID is empty the last
// successfully used identifier is offered to the server instead.
func (c *Client) StartFlow(ctx context.Context, t flow.Type, seedLoginID string) (*flow.Handle, error) {
	serverCfg := c.ServerConfig()
	if serverCfg == nil {
		if err := c.Bootstrap(ctx); err != nil {
			return nil, err
		}
		serverCfg = c.ServerConfig()
	}

	if seedLoginID == "" {
		seedLoginID = c.logins.LastLoginID(ctx)
	}
	kind := loginid.KindFromString(serverCfg.LoginID.Type)
	seed := loginid.Empty
	if seedLoginID != "" {
		seed = loginid.New(kind, seedLoginID)
	}

	return flow.Start(ctx, c.flowConfig(serverCfg), c.flowDeps(), t, seed)
}

// ResumeFlow relaunches a flow from a snapshot taken with
// flow.Handle.Snapshot.
func (c *Client) ResumeFlow(ctx context.Context, snap flow.Snapshot) (*flow.Handle, error) {
	serverCfg := c.ServerConfig()
	if serverCfg == nil {
		if err := c.Bootstrap(ctx); err != nil {
			return nil, err
		}
		serverCfg = c.ServerConfig()
	}
	return flow.Resume(ctx, c.flowConfig(serverCfg), c.flowDeps(), snap)
}

func (c *Client) flowConfig(serverCfg *config.ServerConfig) flow.Config {
	return flow.Config{
		InitURL:                     c.cfg.FlowURL(),
		RedirectURI:                 c.cfg.Redirect.URI,
		LoginIDType:                 loginid.KindFromString(serverCfg.LoginID.Type),
		LoginIDPattern:              serverCfg.LoginID.Pattern(),
		PhoneCodes:                  serverCfg.PhoneCodes,
		EnableRegistrationFromLogin: serverCfg.EnableRegistrationFromLogin,
		PasskeyAutofill:             serverCfg.PasskeysAutofillEnabled && c.auth != nil,
	}
}

func (c *Client) flowDeps() flow.Deps {
	return flow.Deps{
		Transport:     c.transport,
		Authenticator: c.auth,
		Events:        c.events,
		Locales:       c.locales,
		Logins:        c.logins,
	}
}

// Close releases held resources (store connections).
func (c *Client) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
