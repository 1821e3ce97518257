// Package orchestrator runs governed multi-task execution: dependency-aware
// scheduling, per-action governance evaluation, human gates, conflict
// resolution, and periodic checkpointing. One Orchestrator owns one run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/checkpoint"
	"github.com/ppiankov/steward/internal/events"
	"github.com/ppiankov/steward/internal/gate"
	"github.com/ppiankov/steward/internal/graph"
	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/store"
)

// Config tunes one orchestration run.
type Config struct {
	ProjectID string
	Actor     string
	Org       string

	Mode        model.DispatchMode
	MaxParallel int
	ExecTimeout time.Duration

	// CheckpointEvery is in iterations.
	CheckpointEvery int

	IdleSleep    time.Duration
	StallBackoff time.Duration

	// MaxStalls is how many consecutive stalled iterations are tolerated
	// before a blocking gate asks a human what to do.
	MaxStalls int

	// RecentIncidents raises the risk of every evaluation in this run.
	RecentIncidents bool
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = model.ModeHybrid
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 5
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = time.Hour
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 5
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 2 * time.Second
	}
	if c.StallBackoff <= 0 {
		c.StallBackoff = 5 * time.Second
	}
	if c.MaxStalls <= 0 {
		c.MaxStalls = 3
	}
	if c.Actor == "" {
		c.Actor = "orchestrator"
	}
	return c
}

// Orchestrator drives the iteration loop over a task graph. All scheduling
// state is instance state; two orchestrators over disjoint projects do not
// interfere.
type Orchestrator struct {
	cfg         Config
	repo        store.Repository
	gate        *gate.Gate
	checkpoints *checkpoint.Store
	trail       *audit.Log
	exec        Executor
	sink        events.Sink
	reliability *Reliability

	mu             sync.Mutex
	runID          string
	state          model.RunState
	iteration      int
	pauseRequested bool
	abortReason    string
	cancel         context.CancelFunc

	// pendingExec maps approval request ID to the suspended task awaiting
	// that decision.
	pendingExec map[string]string

	conflicts        []model.Conflict
	history          []model.HistoryEntry
	contextSummary   string
	errorHistory     []string
	failedApproaches []string
	fileMods         []string

	stallStreak int
	stallGateID string
}

// New creates an orchestrator. The sink may be nil.
func New(cfg Config, repo store.Repository, g *gate.Gate, cps *checkpoint.Store, trail *audit.Log, exec Executor, sink events.Sink) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		repo:        repo,
		gate:        g,
		checkpoints: cps,
		trail:       trail,
		exec:        exec,
		sink:        sink,
		reliability: NewReliability(),
		state:       model.RunPlanning,
		pendingExec: make(map[string]string),
	}
}

// Snapshot is a point-in-time view of the run for status surfaces.
type Snapshot struct {
	RunID             string           `json:"run_id"`
	ProjectID         string           `json:"project_id"`
	State             model.RunState   `json:"state"`
	Iteration         int              `json:"iteration"`
	AwaitingApprovals int              `json:"awaiting_approvals"`
	StallStreak       int              `json:"stall_streak"`
	Conflicts         []model.Conflict `json:"conflicts,omitempty"`
}

// Snapshot returns the current run view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		RunID:             o.runID,
		ProjectID:         o.cfg.ProjectID,
		State:             o.state,
		Iteration:         o.iteration,
		AwaitingApprovals: len(o.pendingExec),
		StallStreak:       o.stallStreak,
		Conflicts:         append([]model.Conflict(nil), o.conflicts...),
	}
}

// Pause requests a cooperative pause at the next iteration boundary.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.pauseRequested = true
	o.mu.Unlock()
}

// Resume clears a pause request.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.pauseRequested = false
	o.mu.Unlock()
}

// Abort stops the run with a reason. In-flight work is cancelled.
func (o *Orchestrator) Abort(reason string) {
	o.mu.Lock()
	if reason == "" {
		reason = "aborted"
	}
	o.abortReason = reason
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RestoreCheckpoint seeds the orchestrator from a saved checkpoint before
// Run. An empty id picks the most recent valid one; no checkpoint is not an
// error, the run simply starts fresh.
func (o *Orchestrator) RestoreCheckpoint(id string) (bool, error) {
	c, err := o.checkpoints.Restore(o.cfg.ProjectID, id)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}

	o.mu.Lock()
	o.iteration = c.Iteration
	o.history = append([]model.HistoryEntry(nil), c.History...)
	o.contextSummary = c.ContextSummary
	o.errorHistory = append([]string(nil), c.ErrorHistory...)
	o.failedApproaches = append([]string(nil), c.FailedApproaches...)
	o.fileMods = append([]string(nil), c.FileModifications...)
	o.mu.Unlock()
	return true, nil
}

// Run executes the iteration loop until the project completes, fails, or the
// context is cancelled. Cancellation without Abort is a clean stop: state is
// checkpointed and Run returns nil.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.runID == "" {
		o.runID = model.NewID("run")
	}
	o.cancel = cancel
	o.state = model.RunPlanning
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("internal error: %v", r)
			o.saveCheckpoint(context.Background(), model.CheckpointErrorRecovery, reason)
			o.failRun(reason)
			err = errors.New(reason)
		}
	}()

	o.transition(model.RunRunning)
	o.rebuildPending()
	o.noteHistory("orchestrator", fmt.Sprintf("run %s started for project %s", o.runID, o.cfg.ProjectID))

	for {
		select {
		case <-ctx.Done():
			return o.stop()
		default:
		}

		if o.paused() {
			o.transition(model.RunPaused)
			o.sleep(ctx, o.cfg.IdleSleep)
			continue
		}
		o.transition(model.RunRunning)

		o.gate.Requests().CleanupExpired()
		o.pollApprovals(ctx)
		o.applyGateDecisions(ctx)

		if reason := o.abortedReason(); reason != "" {
			o.saveCheckpoint(ctx, model.CheckpointErrorRecovery, reason)
			o.failRun(reason)
			return errors.New(reason)
		}

		if o.blockedOnGates() {
			o.transition(model.RunBlocked)
			o.sleep(ctx, o.cfg.IdleSleep)
			continue
		}

		tasks, err := o.repo.ListTasks()
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		if !graph.Incomplete(tasks) {
			return o.finish(ctx, tasks)
		}

		completed := graph.CompletedSet(tasks)
		batch := o.selectBatch(tasks, completed)
		if len(batch) == 0 {
			if o.awaitingApprovals() {
				o.transition(model.RunBlocked)
				o.sleep(ctx, o.cfg.IdleSleep)
				continue
			}
			o.noteStall(ctx)
			o.sleep(ctx, o.cfg.StallBackoff)
			continue
		}
		o.resetStall()

		results := o.runBatch(ctx, batch)
		o.resolveConflicts(results)

		o.mu.Lock()
		o.iteration++
		iter := o.iteration
		o.mu.Unlock()

		o.emit(events.Event{Type: events.IterationProgress, Payload: map[string]any{
			"iteration":  iter,
			"dispatched": len(batch),
		}})

		if iter%o.cfg.CheckpointEvery == 0 {
			o.saveCheckpoint(ctx, model.CheckpointAutomatic, fmt.Sprintf("iteration %d", iter))
		}
	}
}

// stop handles context cancellation: abort fails the run, a plain cancel
// parks it paused behind a checkpoint.
func (o *Orchestrator) stop() error {
	if reason := o.abortedReason(); reason != "" {
		o.saveCheckpoint(context.Background(), model.CheckpointErrorRecovery, reason)
		o.failRun(reason)
		return errors.New(reason)
	}
	o.saveCheckpoint(context.Background(), model.CheckpointAutomatic, "run interrupted")
	o.transition(model.RunPaused)
	return nil
}

// finish drains a completed graph. Failed tasks are reported, not escalated:
// only an explicit abort or an internal error fails the run itself.
func (o *Orchestrator) finish(ctx context.Context, tasks []model.Task) error {
	var failed []string
	for _, t := range tasks {
		if t.Status == model.TaskFailed {
			failed = append(failed, t.ID)
		}
	}

	o.saveCheckpoint(ctx, model.CheckpointMilestone, "project finished")

	o.transition(model.RunCompleted)
	if len(failed) > 0 {
		o.noteHistory("orchestrator", fmt.Sprintf("project completed with %d failed tasks: %v", len(failed), failed))
	} else {
		o.noteHistory("orchestrator", "project completed")
	}
	o.emit(events.Event{Type: events.ProjectCompleted, Payload: map[string]any{
		"tasks":        len(tasks),
		"failed_tasks": failed,
	}})
	return nil
}

func (o *Orchestrator) failRun(reason string) {
	o.transition(model.RunFailed)
	o.noteHistory("orchestrator", "run failed: "+reason)
	o.emit(events.Event{Type: events.ProjectFailed, Payload: map[string]any{
		"reason": reason,
	}})
}

// runTransitions is the legal run state machine. Terminal states have no
// exits.
var runTransitions = map[model.RunState][]model.RunState{
	model.RunPlanning: {model.RunRunning, model.RunFailed},
	model.RunRunning:  {model.RunPaused, model.RunBlocked, model.RunCompleted, model.RunFailed},
	model.RunPaused:   {model.RunRunning, model.RunFailed},
	model.RunBlocked:  {model.RunRunning, model.RunPaused, model.RunFailed},
}

func (o *Orchestrator) transition(next model.RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == next {
		return
	}
	for _, allowed := range runTransitions[o.state] {
		if allowed == next {
			o.state = next
			return
		}
	}
}

func (o *Orchestrator) paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pauseRequested
}

func (o *Orchestrator) abortedReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.abortReason
}

func (o *Orchestrator) awaitingApprovals() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pendingExec) > 0
}

func (o *Orchestrator) blockedOnGates() bool {
	gates, err := o.repo.ListGates(model.GatePending)
	if err != nil {
		return false
	}
	for _, g := range gates {
		if g.BlocksProgress {
			return true
		}
	}
	return false
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, kind model.CheckpointKind, reason string) {
	tasks, err := o.repo.ListTasks()
	if err != nil {
		return
	}
	var completedIDs, pendingIDs []string
	for _, t := range tasks {
		if t.Status == model.TaskCompleted {
			completedIDs = append(completedIDs, t.ID)
		} else if !t.Status.Terminal() {
			pendingIDs = append(pendingIDs, t.ID)
		}
	}

	o.mu.Lock()
	st := checkpoint.State{
		ProjectID: o.cfg.ProjectID,
		Iteration: o.iteration,
		AgentState: map[string]string{
			"run_id": o.runID,
			"state":  string(o.state),
		},
		History:           append([]model.HistoryEntry(nil), o.history...),
		ContextSummary:    o.contextSummary,
		FileModifications: append([]string(nil), o.fileMods...),
		ErrorHistory:      append([]string(nil), o.errorHistory...),
		FailedApproaches:  append([]string(nil), o.failedApproaches...),
		CompletedTasks:    completedIDs,
		PendingTasks:      pendingIDs,
	}
	o.mu.Unlock()

	id, err := o.checkpoints.Save(ctx, st, kind, reason)
	if err != nil {
		return
	}
	o.emit(events.Event{Type: events.CheckpointCreated, Payload: map[string]any{
		"checkpoint_id": id,
		"kind":          string(kind),
		"reason":        reason,
	}})
}

func (o *Orchestrator) noteHistory(role, content string) {
	o.mu.Lock()
	o.history = append(o.history, model.HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: model.UTCNowISO(),
	})
	o.mu.Unlock()
}

func (o *Orchestrator) emit(e events.Event) {
	if o.sink == nil {
		return
	}
	e.Timestamp = model.UTCNowISO()
	o.mu.Lock()
	e.RunID = o.runID
	o.mu.Unlock()
	o.sink.Emit(e)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
