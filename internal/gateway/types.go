package gateway

import (
	"context"
)

// Stage is one provisioning lifecycle step executed by the Terraform binary.
type Stage string

const (
	// StageInit downloads providers and prepares the working directory
	StageInit Stage = "init"

	// StagePlan computes the change set without touching the provider
	StagePlan Stage = "plan"

	// StageApply provisions the planned resources
	StageApply Stage = "apply"

	// StageDestroy tears down everything recorded in the state file
	StageDestroy Stage = "destroy"
)

// Credentials carries the cloud credentials bound to one deployment attempt.
// Env holds the provider-specific variables handed to the Terraform process
// (e.g. AWS_ACCESS_KEY_ID, ARM_CLIENT_ID, GOOGLE_CREDENTIALS).
type Credentials struct {
	Cloud string            `json:"cloud"` // "aws", "azure" or "gcp"
	Env   map[string]string `json:"-"`
}

// RunStatus is the polled snapshot of the most recently started stage.
//
// Invariant: for a recorded run, Success is non-nil exactly when Running is
// false. Seq is a generation counter assigned when the stage was started;
// pollers use it to ignore terminal statuses left over from an earlier run.
type RunStatus struct {
	Running     bool   `json:"running"`
	Command     string `json:"command,omitempty"`
	Output      string `json:"output"`
	Success     *bool  `json:"success"`
	CanRollback bool   `json:"can_rollback"`
	Seq         uint64 `json:"seq"`
}

// SaveConfigRequest describes the configuration to generate for one
// deployment: the template files to write plus the variable values captured
// at prepare time.
type SaveConfigRequest struct {
	Name        string
	Files       map[string]string
	Variables   map[string]interface{}
	Credentials Credentials
}

// Gateway is the command execution boundary: it runs provisioning stages
// out-of-process and reports their progress. Starting a stage returns
// immediately; the outcome is discovered by polling Status.
type Gateway interface {
	// ResetRunState drops the recorded run. Callers treat failures as
	// best-effort and ignore them.
	ResetRunState(ctx context.Context) error

	// SaveConfiguration generates the provisioning configuration on disk and
	// returns its path. One directory per deployment name; calling it again
	// with the same name targets the same directory.
	SaveConfiguration(ctx context.Context, req SaveConfigRequest) (string, error)

	// StartCommand starts a provisioning stage for the named deployment and
	// returns the run's sequence number. The result is reported via Status.
	StartCommand(ctx context.Context, name string, stage Stage, creds Credentials) (uint64, error)

	// Status returns the current run snapshot. Idempotent and side-effect
	// free.
	Status(ctx context.Context) (*RunStatus, error)

	// CancelRun asks the in-flight command to stop. Best-effort: the process
	// may keep running briefly, and the terminal status is still discovered
	// by polling.
	CancelRun(ctx context.Context) error

	// StartDestroy starts a destroy run for the named deployment and returns
	// the run's sequence number.
	StartDestroy(ctx context.Context, name string, creds Credentials) (uint64, error)

	// OpenFolder opens the given path in the operating system file browser.
	OpenFolder(ctx context.Context, path string) error
}
