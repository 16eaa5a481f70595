package flow

import "context"

// StepKind identifies the concrete step a flow is currently in.
type StepKind int

const (
	KindInit StepKind = iota
	KindIDCollect
	KindFidoRegister
	KindFidoLogin
	KindOTP
	KindWebApp
	KindSuccess
	KindDone
)

func (k StepKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindIDCollect:
		return "id-collect"
	case KindFidoRegister:
		return "fido-register"
	case KindFidoLogin:
		return "fido-login"
	case KindOTP:
		return "otp"
	case KindWebApp:
		return "web-app"
	case KindSuccess:
		return "success"
	case KindDone:
		return "done"
	}
	return "unknown"
}

// tag maps a step kind onto the cancellation step tag. Only the
// terminal done state has none.
func (k StepKind) tag() StepTag {
	switch k {
	case KindInit:
		return StepTagInit
	case KindSuccess:
		return StepTagSuccess
	case KindIDCollect:
		return StepTagIDCollect
	case KindFidoRegister:
		return StepTagFidoRegister
	case KindFidoLogin:
		return StepTagFidoLogin
	case KindOTP:
		return StepTagOTP
	case KindWebApp:
		return StepTagWebApp
	}
	return ""
}

// step is one link of the flow. Instances are single-use: run is called
// exactly once and returns the successor, terminating with a *doneStep.
type step interface {
	kind() StepKind
	run(ctx context.Context, f *Flow) (step, error)
}

// doneStep is the terminal holder. Exactly one of resp/err is
// meaningful; the engine converts it into the flow result.
type doneStep struct {
	resp Response
	err  error
}

func (d *doneStep) kind() StepKind { return KindDone }

func (d *doneStep) run(ctx context.Context, f *Flow) (step, error) {
	return d, nil
}
