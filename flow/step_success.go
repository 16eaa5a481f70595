package flow

import (
	"context"
)

// successStep proves possession of the session verifier and maps the
// final status response into the flow result.
type successStep struct{}

func (s *successStep) kind() StepKind { return KindSuccess }

func matchSuccess(d directive, _ *Session) bool {
	return typeIs(d, "success")
}

func newSuccessStep(_ directive, _ *Session) (step, error) {
	return &successStep{}, nil
}

type finalStatusRequest struct {
	SessionVerifier string `json:"sessionVerifier"`
}

func (s *successStep) run(ctx context.Context, f *Flow) (step, error) {
	if f.session.FinalStatusURL == "" {
		return nil, &MalformedDirectiveError{Field: "finalStatusUrl"}
	}

	raw, err := f.post(ctx, f.session.FinalStatusURL, finalStatusRequest{
		SessionVerifier: f.session.Verifier,
	})
	if err != nil {
		return &doneStep{err: err}, nil
	}

	resp, err := parseFinalStatus(raw)
	if err != nil {
		return &doneStep{err: err}, nil
	}
	return &doneStep{resp: resp}, nil
}
