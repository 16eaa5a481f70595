package flow

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/keyless-sdk/keyless-go/event"
)

// webAppStep hands the flow to an external browser session and waits
// for the single redirect callback.
type webAppStep struct {
	url string
}

func (s *webAppStep) kind() StepKind { return KindWebApp }

// The browser fallback only applies to sessions not started in QR mode;
// a QR session is itself the remote end of someone else's browser flow.
func matchWebApp(d directive, s *Session) bool {
	return typeIs(d, "showQr") && !s.QR
}

func newWebAppStep(d directive, _ *Session) (step, error) {
	var data struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(d.Data, &data); err != nil || data.URL == "" {
		return nil, &MalformedDirectiveError{Field: "url"}
	}
	return &webAppStep{url: data.URL}, nil
}

func (s *webAppStep) run(ctx context.Context, f *Flow) (step, error) {
	expected, err := redirectWithContext(f.cfg.RedirectURI, f.session.ContextToken)
	if err != nil {
		return nil, err
	}

	launch, err := url.Parse(s.url)
	if err != nil {
		return nil, &MalformedDirectiveError{Field: "url"}
	}
	q := launch.Query()
	if !f.session.LoginID.IsEmpty() {
		q.Set("e", f.session.LoginID.Value)
	}
	q.Set("redirectURI", expected)
	launch.RawQuery = q.Encode()

	prompt := &WebAppPrompt{
		LaunchURL: launch.String(),
		reply:     make(chan webAppReply, 1),
	}
	if err := f.sendPrompt(ctx, prompt); err != nil {
		return nil, err
	}

	var reply webAppReply
	select {
	case reply = <-prompt.reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// The user backed out, or the browser returned nothing.
	if !reply.ok || reply.callbackURL == "" {
		return nil, &CancelledError{Step: StepTagWebApp}
	}

	// Browsers and deep-link routers are inconsistent about URL casing.
	if !strings.EqualFold(reply.callbackURL, expected) {
		return nil, &WebAppMismatchError{Expected: expected, Got: reply.callbackURL}
	}

	// The server learned the outcome through its own side channel; the
	// flow resolves straight to the final status exchange.
	f.emit(event.TypeTrack, "browser hand-off returned")
	return &successStep{}, nil
}

// redirectWithContext embeds the session's context token in the
// configured redirection URI.
func redirectWithContext(redirectURI, contextToken string) (string, error) {
	if redirectURI == "" {
		return "", &MalformedDirectiveError{Field: "redirectURI"}
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", &MalformedDirectiveError{Field: "redirectURI"}
	}
	q := u.Query()
	q.Set("context", contextToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
