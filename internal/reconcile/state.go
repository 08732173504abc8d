package reconcile

// RunState is where a reconciliation run currently is. One run moves
// through the states strictly in order and ends in Succeeded or Failed;
// there is no retry loop between states.
type RunState string

const (
	StateIdle                   RunState = "idle"
	StateSyncing                RunState = "syncing"
	StateConfiguringSecrets     RunState = "configuring-secrets"
	StatePlacingArtifacts       RunState = "placing-artifacts"
	StateInstallingDependencies RunState = "installing-dependencies"
	StateValidatingConfig       RunState = "validating-config"
	StateRestartingServices     RunState = "restarting-services"
	StateVerifyingHealth        RunState = "verifying-health"
	StateSucceeded              RunState = "succeeded"
	StateFailed                 RunState = "failed"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Step names one of the seven reconciliation steps.
type Step string

const (
	StepSync                Step = "sync"
	StepConfigureSecrets    Step = "configure-secrets"
	StepPlaceArtifacts      Step = "place-artifacts"
	StepInstallDependencies Step = "install-dependencies"
	StepValidateConfig      Step = "validate-config"
	StepRestartServices     Step = "restart-services"
	StepVerifyHealth        Step = "verify-health"
)
