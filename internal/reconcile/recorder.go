package reconcile

import "context"

// Recorder receives run and step transitions as they happen. The journal
// implements it; NopRecorder keeps the driver usable without one. Recorder
// failures are logged and do not abort a deployment in flight.
type Recorder interface {
	RunStarted(ctx context.Context, id, target, branch, state string) error
	RunCommit(ctx context.Context, id, commit string) error
	StepStarted(ctx context.Context, runID, step string) error
	StepFinished(ctx context.Context, runID, step, state, detail string) error
	RunFinished(ctx context.Context, id, state, failureStep, failureReason string) error
}

// NopRecorder discards every transition.
type NopRecorder struct{}

func (NopRecorder) RunStarted(context.Context, string, string, string, string) error { return nil }
func (NopRecorder) RunCommit(context.Context, string, string) error                  { return nil }
func (NopRecorder) StepStarted(context.Context, string, string) error                { return nil }
func (NopRecorder) StepFinished(context.Context, string, string, string, string) error {
	return nil
}
func (NopRecorder) RunFinished(context.Context, string, string, string, string) error { return nil }
