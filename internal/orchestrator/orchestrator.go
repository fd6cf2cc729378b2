// Package orchestrator drives the deployment lifecycle: it sequences the
// provisioning stages through the command gateway, tracks their asynchronous
// completion by polling, and exposes the step state machine the rest of the
// application acts on.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pcarvalho/stackwizard/internal/gateway"
)

// Step is the single source of truth for what the application may do next.
type Step string

const (
	StepReady        Step = "ready"
	StepInitializing Step = "initializing"
	StepPlanning     Step = "planning"
	StepReview       Step = "review"
	StepDeploying    Step = "deploying"
	StepComplete     Step = "complete"
	StepFailed       Step = "failed"
)

// CanCancel reports whether a run may be cancelled at this step.
func (s Step) CanCancel() bool {
	return s == StepInitializing || s == StepPlanning || s == StepDeploying
}

// Record is the durable identity of one deployment attempt. It is created
// when prepare first runs, reused across retries of the same attempt, and
// cleared only by an explicit Reset.
type Record struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	TemplateID    string `json:"template_id"`
	IsRollingBack bool   `json:"is_rolling_back"`
}

// PrepareRequest carries the configuration input bound at prepare time. The
// orchestrator captures it by value so later stages of the same attempt run
// against exactly the inputs the first stage saw.
type PrepareRequest struct {
	TemplateID  string
	Files       map[string]string
	Variables   map[string]interface{}
	Credentials gateway.Credentials
	NamePrefix  string
}

// RollbackOptions controls how a rollback outcome is framed.
type RollbackOptions struct {
	// KeepRollingBackOnSuccess leaves the rollback flag set after a
	// successful destroy so the terminal screen reads as cleanup rather
	// than deployment.
	KeepRollingBackOnSuccess bool
}

// StatusPublisher receives every polled RunStatus for live progress display.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, deployment string, st gateway.RunStatus) error
}

// TransitionSink persists step transitions for deployment history.
type TransitionSink interface {
	RecordTransition(ctx context.Context, rec Record, step Step, st *gateway.RunStatus) error
}

// ConfigArchiver versions the generated configuration directory. Archiving is
// best-effort; a failure never blocks the deployment.
type ConfigArchiver interface {
	CommitConfiguration(ctx context.Context, dir, deployment string) (string, error)
	Push(ctx context.Context, dir string) error
}

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Logger           zerolog.Logger
	Publisher        StatusPublisher
	Sink             TransitionSink
	Archiver         ConfigArchiver
	WaitInterval     time.Duration // init/plan blocking wait, default 1s
	ApplyInterval    time.Duration // apply watcher, default 1s
	RollbackInterval time.Duration // destroy watcher, default 500ms
}

// Orchestrator owns the deployment step state machine. Its public methods are
// total: gateway and polling errors never escape, they become step
// transitions and human-readable output on the run status.
type Orchestrator struct {
	gw        gateway.Gateway
	logger    zerolog.Logger
	publisher StatusPublisher
	sink      TransitionSink
	archiver  ConfigArchiver

	waitInterval     time.Duration
	applyInterval    time.Duration
	rollbackInterval time.Duration

	mu        sync.Mutex
	step      Step
	record    *Record
	creds     gateway.Credentials
	variables map[string]interface{}
	status    *gateway.RunStatus
	preparing bool
	watchStop chan struct{}
	disposed  bool

	done     chan struct{}
	doneOnce sync.Once
}

// New creates an orchestrator in the ready step.
func New(gw gateway.Gateway, opts Options) *Orchestrator {
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = time.Second
	}
	if opts.ApplyInterval <= 0 {
		opts.ApplyInterval = time.Second
	}
	if opts.RollbackInterval <= 0 {
		opts.RollbackInterval = 500 * time.Millisecond
	}

	return &Orchestrator{
		gw:               gw,
		logger:           opts.Logger.With().Str("component", "orchestrator").Logger(),
		publisher:        opts.Publisher,
		sink:             opts.Sink,
		archiver:         opts.Archiver,
		waitInterval:     opts.WaitInterval,
		applyInterval:    opts.ApplyInterval,
		rollbackInterval: opts.RollbackInterval,
		step:             StepReady,
		done:             make(chan struct{}),
	}
}

// Snapshot returns the current step, record and run status. The record and
// status are copies; callers cannot mutate orchestrator state through them.
func (o *Orchestrator) Snapshot() (Step, *Record, *gateway.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var rec *Record
	if o.record != nil {
		r := *o.record
		rec = &r
	}

	var st *gateway.RunStatus
	if o.status != nil {
		s := *o.status
		st = &s
	}

	return o.step, rec, st
}

// Prepare generates the provisioning configuration and runs init then plan,
// blocking until the review step is reached or a stage fails. Calling it
// while the record is non-empty retries the same attempt: the deployment
// name and directory are reused so partially-provisioned state is resumed
// rather than duplicated.
func (o *Orchestrator) Prepare(ctx context.Context, req PrepareRequest) {
	o.mu.Lock()
	if o.disposed || o.preparing {
		o.mu.Unlock()
		return
	}
	o.preparing = true
	o.stopWatchLocked()
	o.status = nil

	// Capture the inputs by value. Every later stage reads these owned
	// fields, never the caller's request.
	o.creds = req.Credentials
	o.variables = cloneValues(req.Variables)

	if o.record == nil {
		o.record = &Record{
			Name:       deriveName(req.TemplateID, req.NamePrefix),
			TemplateID: req.TemplateID,
		}
	}
	o.record.IsRollingBack = false
	name := o.record.Name
	o.setStepLocked(StepInitializing)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.preparing = false
		o.mu.Unlock()
	}()

	// Best-effort: a stale run from a previous session must not block a
	// fresh prepare. The generation counter on started runs protects the
	// pollers from any status it may still produce.
	if err := o.gw.ResetRunState(ctx); err != nil {
		o.logger.Debug().Err(err).Msg("Reset run state failed, continuing")
	}

	path, err := o.gw.SaveConfiguration(ctx, gateway.SaveConfigRequest{
		Name:        name,
		Files:       req.Files,
		Variables:   o.variables,
		Credentials: o.creds,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("deployment", name).Msg("Configuration generation failed")
		o.failInvoke(ctx, err)
		return
	}

	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.record.Path = path
	o.mu.Unlock()

	o.archive(ctx, path, name)

	if !o.runStageAndWait(ctx, name, gateway.StageInit) {
		return
	}

	if !o.transition(ctx, StepPlanning) {
		return
	}

	if !o.runStageAndWait(ctx, name, gateway.StagePlan) {
		return
	}

	o.transition(ctx, StepReview)
}

// runStageAndWait starts one stage and blocks until the gateway reports a
// terminal status for it. It returns false when the caller must stop
// sequencing, having already recorded the failure.
func (o *Orchestrator) runStageAndWait(ctx context.Context, name string, stage gateway.Stage) bool {
	o.mu.Lock()
	creds := o.creds
	o.mu.Unlock()

	seq, err := o.gw.StartCommand(ctx, name, stage, creds)
	if err != nil {
		o.logger.Error().Err(err).Str("stage", string(stage)).Msg("Failed to start stage")
		o.failInvoke(ctx, err)
		return false
	}

	st, err := o.awaitTerminal(ctx, seq)
	if err != nil {
		// Torn down or cancelled mid-wait: no further state mutation.
		return false
	}

	if st.Success == nil || !*st.Success {
		o.logger.Warn().Str("stage", string(stage)).Msg("Stage reported failure")
		o.mu.Lock()
		o.setStatusLocked(st)
		o.setStepLocked(StepFailed)
		o.mu.Unlock()
		o.notify(ctx, st)
		return false
	}

	return true
}

// ConfirmAndApply starts the apply stage after the operator confirmed the
// plan. A no-op unless the step is review and a record exists. Apply is the
// longest stage, so progress is reported through the non-blocking watcher
// instead of holding the caller.
func (o *Orchestrator) ConfirmAndApply(ctx context.Context) {
	o.mu.Lock()
	if o.disposed || o.step != StepReview || o.record == nil {
		o.mu.Unlock()
		return
	}
	name := o.record.Name
	creds := o.creds
	o.setStepLocked(StepDeploying)
	o.mu.Unlock()

	o.notify(ctx, nil)

	seq, err := o.gw.StartCommand(ctx, name, gateway.StageApply, creds)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to start apply")
		o.failInvoke(ctx, err)
		return
	}

	o.watch(o.applyInterval, seq, false, func(st *gateway.RunStatus, ok bool) {
		o.mu.Lock()
		if o.disposed {
			o.mu.Unlock()
			return
		}
		o.setStatusLocked(st)
		if ok {
			o.setStepLocked(StepComplete)
		} else {
			o.setStepLocked(StepFailed)
		}
		o.mu.Unlock()
		o.notify(context.Background(), st)
	})
}

// Cancel asks the gateway to stop the in-flight command and refreshes the
// displayed output once. It never changes the step itself: the next observed
// status decides the outcome, which also resolves a cancel racing a natural
// completion.
func (o *Orchestrator) Cancel(ctx context.Context) {
	o.mu.Lock()
	if o.disposed || !o.step.CanCancel() {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := o.gw.CancelRun(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("Cancel request failed")
	}

	if st, err := o.gw.Status(ctx); err == nil {
		o.mu.Lock()
		if !o.disposed {
			o.setStatusLocked(st)
		}
		o.mu.Unlock()
		o.notify(ctx, st)
	}
}

// Rollback starts a destroy run compensating for a failed or unwanted
// deployment. Valid only when the latest observed status reports that a
// destroy is meaningful.
func (o *Orchestrator) Rollback(ctx context.Context, opts RollbackOptions) {
	o.mu.Lock()
	if o.disposed || o.record == nil || o.status == nil || !o.status.CanRollback {
		o.mu.Unlock()
		return
	}
	o.record.IsRollingBack = true
	o.stopWatchLocked()
	name := o.record.Name
	creds := o.creds
	o.mu.Unlock()

	o.logger.Info().Str("deployment", name).Msg("Starting rollback")

	seq, err := o.gw.StartDestroy(ctx, name, creds)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to start destroy")
		o.failInvoke(ctx, err)
		return
	}

	// A status query error during rollback polling is fatal to the attempt:
	// retrying silently here could mask a destroy that never completed.
	o.watch(o.rollbackInterval, seq, true, func(st *gateway.RunStatus, ok bool) {
		o.mu.Lock()
		if o.disposed {
			o.mu.Unlock()
			return
		}
		o.setStatusLocked(st)
		if ok {
			if !opts.KeepRollingBackOnSuccess && o.record != nil {
				o.record.IsRollingBack = false
			}
			o.setStepLocked(StepComplete)
		} else {
			if o.record != nil {
				o.record.IsRollingBack = false
			}
			o.setStepLocked(StepFailed)
		}
		o.mu.Unlock()
		o.notify(context.Background(), st)
	})
}

// Reset clears the record and run status so the next prepare starts a fresh
// deployment. The only way out of the complete step.
func (o *Orchestrator) Reset(ctx context.Context) {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.stopWatchLocked()
	o.record = nil
	o.status = nil
	o.setStepLocked(StepReady)
	o.mu.Unlock()

	if err := o.gw.ResetRunState(ctx); err != nil {
		o.logger.Debug().Err(err).Msg("Reset run state failed, continuing")
	}
}

// Dispose stops all polling and marks the orchestrator inert. No state
// mutation happens after it returns; in-flight poll callbacks observe the
// flag and drop their results.
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	o.disposed = true
	o.stopWatchLocked()
	o.mu.Unlock()

	o.doneOnce.Do(func() { close(o.done) })
}

// archive versions the generated configuration, best-effort
func (o *Orchestrator) archive(ctx context.Context, path, name string) {
	if o.archiver == nil {
		return
	}

	if _, err := o.archiver.CommitConfiguration(ctx, path, name); err != nil {
		o.logger.Warn().Err(err).Str("deployment", name).Msg("Failed to commit configuration")
		return
	}
	if err := o.archiver.Push(ctx, path); err != nil {
		o.logger.Warn().Err(err).Str("deployment", name).Msg("Failed to push configuration")
	}
}

// failInvoke records an invocation failure: the gateway call itself could not
// be started, so a terminal status is synthesized from the error text and the
// step goes to failed. Rollback is never offered from a synthesized status.
func (o *Orchestrator) failInvoke(ctx context.Context, err error) {
	failed := false
	st := &gateway.RunStatus{
		Running:     false,
		Output:      fmt.Sprintf("Error: %v", err),
		Success:     &failed,
		CanRollback: false,
	}

	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.setStatusLocked(st)
	o.setStepLocked(StepFailed)
	o.mu.Unlock()

	o.notify(ctx, st)
}

// transition advances the step, returning false if the orchestrator was
// disposed in the meantime.
func (o *Orchestrator) transition(ctx context.Context, step Step) bool {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return false
	}
	o.setStepLocked(step)
	o.mu.Unlock()

	o.notify(ctx, nil)
	return true
}

func (o *Orchestrator) setStepLocked(step Step) {
	if o.step == step {
		return
	}

	o.logger.Info().
		Str("from", string(o.step)).
		Str("to", string(step)).
		Msg("Step transition")
	o.step = step
}

func (o *Orchestrator) setStatusLocked(st *gateway.RunStatus) {
	if st == nil {
		return
	}
	s := *st
	o.status = &s
}

// notify pushes the transition to the history sink and, when a status is
// present, to the live publisher. Both are best-effort.
func (o *Orchestrator) notify(ctx context.Context, st *gateway.RunStatus) {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	step := o.step
	var rec Record
	if o.record != nil {
		rec = *o.record
	}
	o.mu.Unlock()

	if o.sink != nil {
		if err := o.sink.RecordTransition(ctx, rec, step, st); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to record transition")
		}
	}

	if o.publisher != nil && st != nil {
		if err := o.publisher.PublishStatus(ctx, rec.Name, *st); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to publish status")
		}
	}
}

// deriveName builds a stable deployment name from the template id, or the
// operator's chosen prefix, plus a timestamp.
func deriveName(templateID, prefix string) string {
	base := prefix
	if base == "" {
		base = templateID
	}
	if base == "" {
		base = "deployment"
	}
	return fmt.Sprintf("%s-%s", base, time.Now().Format("20060102-150405"))
}

func cloneValues(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
