package orchestrator

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/checkpoint"
	"github.com/ppiankov/steward/internal/events"
	"github.com/ppiankov/steward/internal/gate"
	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/policy"
	"github.com/ppiankov/steward/internal/store"
)

// eventLog is a concurrency-safe event sink for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Emit(e events.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) has(eventType string) bool {
	for _, t := range l.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

func (l *eventLog) last(eventType string) (events.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == eventType {
			return l.events[i], true
		}
	}
	return events.Event{}, false
}

type testEnv struct {
	o        *Orchestrator
	repo     *store.Memory
	requests *gate.Requests
	gate     *gate.Gate
	trail    *audit.Log
	sink     *eventLog
	cfg      Config
}

func newTestEnv(t *testing.T, cfg Config, exec Executor, pol model.AutonomyPolicy) *testEnv {
	t.Helper()
	repo := store.NewMemory()
	trail := audit.New(repo)

	policies := policy.NewStore(nil)
	pol.Actor = "orchestrator"
	pol.Org = "acme"
	policies.Put(pol)

	requests := gate.NewRequests(repo)
	g := gate.New(policies, requests, trail, nil)

	cfg.ProjectID = "p1"
	cfg.Actor = "orchestrator"
	cfg.Org = "acme"
	if cfg.IdleSleep == 0 {
		cfg.IdleSleep = time.Millisecond
	}
	if cfg.StallBackoff == 0 {
		cfg.StallBackoff = time.Millisecond
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 5 * time.Second
	}

	sink := &eventLog{}
	o := New(cfg, repo, g, checkpoint.New(repo, nil), trail, exec, sink)
	return &testEnv{o: o, repo: repo, requests: requests, gate: g, trail: trail, sink: sink, cfg: cfg}
}

// restart builds a fresh orchestrator over the same repository, the way a new
// process would after a crash.
func (env *testEnv) restart(exec Executor) *Orchestrator {
	return New(env.cfg, env.repo, env.gate, checkpoint.New(env.repo, nil), env.trail, exec, env.sink)
}

// permissive lets low-risk actions through without approval.
func permissive() model.AutonomyPolicy {
	return model.AutonomyPolicy{Level: model.AutonomyElevated, MaxAutoRisk: 0.9}
}

func seedTask(t *testing.T, repo store.Repository, task model.Task) {
	t.Helper()
	if task.Status == "" {
		task.Status = model.TaskPending
	}
	if task.Priority == 0 {
		task.Priority = 50
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if err := repo.UpsertTask(task); err != nil {
		t.Fatal(err)
	}
}

// runAsync starts Run under a guard timeout and returns the error channel.
func runAsync(t *testing.T, o *Orchestrator) (<-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	t.Cleanup(cancel)
	return done, cancel
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(12 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func TestRunCompletesDependencyChain(t *testing.T) {
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, &Simulated{}, permissive())
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "scaffold", ActionType: "create_file", TargetResources: []string{"api/server.go"}})
	seedTask(t, env.repo, model.Task{ID: "t2", Title: "implement", ActionType: "modify_code", Dependencies: []string{"t1"}})
	seedTask(t, env.repo, model.Task{ID: "t3", Title: "verify", ActionType: "run_tests", Dependencies: []string{"t2"}})

	if err := env.o.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	snap := env.o.Snapshot()
	if snap.State != model.RunCompleted {
		t.Errorf("expected completed, got %s", snap.State)
	}
	if snap.Iteration != 3 {
		t.Errorf("a 3-task chain takes 3 iterations, got %d", snap.Iteration)
	}

	tasks, _ := env.repo.ListTasks()
	for _, task := range tasks {
		if task.Status != model.TaskCompleted {
			t.Errorf("task %s not completed: %s", task.ID, task.Status)
		}
		if task.Outputs["simulated"] != "true" {
			t.Errorf("task %s outputs lost: %v", task.ID, task.Outputs)
		}
	}

	executed, _ := env.repo.ListAudit(audit.Filter{Decision: "EXECUTED"})
	if len(executed) != 3 {
		t.Errorf("expected 3 EXECUTED entries, got %d", len(executed))
	}
	if result := audit.VerifyChain(mustAll(t, env.repo)); !result.Valid {
		t.Errorf("audit chain broken: %s", result.Error)
	}

	cps, _ := env.repo.ListCheckpoints("p1")
	milestone := false
	for _, c := range cps {
		if c.Kind == model.CheckpointMilestone {
			milestone = true
		}
	}
	if !milestone {
		t.Error("finish must leave a milestone checkpoint")
	}

	for _, want := range []string{events.TaskStarted, events.TaskCompleted, events.IterationProgress, events.ProjectCompleted} {
		if !env.sink.has(want) {
			t.Errorf("missing %s event, got %v", want, env.sink.types())
		}
	}
}

func TestConflictSingleRecordPerTaskGroup(t *testing.T) {
	env := newTestEnv(t, Config{Mode: model.ModeParallel, MaxParallel: 2}, &Simulated{}, permissive())
	shared := []string{"db/users", "db/orders"}
	seedTask(t, env.repo, model.Task{ID: "t-a", Title: "rewrite a", ActionType: "modify_code", Priority: 50, Parallelizable: true, TargetResources: shared})
	seedTask(t, env.repo, model.Task{ID: "t-b", Title: "rewrite b", ActionType: "modify_code", Priority: 90, Parallelizable: true, TargetResources: shared})

	if err := env.o.Run(context.Background()); err != nil {
		t.Fatalf("overlap must not fail the run: %v", err)
	}

	snap := env.o.Snapshot()
	if len(snap.Conflicts) != 1 {
		t.Fatalf("two tasks sharing two resources is one conflict, got %d", len(snap.Conflicts))
	}
	c := snap.Conflicts[0]
	if len(c.TaskIDs) != 2 || c.TaskIDs[0] != "t-a" || c.TaskIDs[1] != "t-b" {
		t.Errorf("conflict must name both tasks sorted: %v", c.TaskIDs)
	}
	if len(c.Resources) != 2 {
		t.Errorf("both shared resources belong to the one record: %v", c.Resources)
	}
	// Same action type means equal reliability; priority breaks the tie.
	if c.WinnerID != "t-b" {
		t.Errorf("higher priority should win the tie, got %s", c.WinnerID)
	}

	// Completed work is never un-done by a conflict.
	for _, id := range []string{"t-a", "t-b"} {
		task, _ := env.repo.GetTask(id)
		if task.Status != model.TaskCompleted {
			t.Errorf("task %s should stay completed, got %s", id, task.Status)
		}
	}

	resolved, _ := env.repo.ListAudit(audit.Filter{ActionType: "conflict_resolution"})
	if len(resolved) != 1 {
		t.Errorf("expected one conflict audit entry, got %d", len(resolved))
	}
	if !env.sink.has(events.ConflictDetected) {
		t.Error("conflict event missing")
	}
}

func TestRetryEscalationAndHumanRetry(t *testing.T) {
	// Fails twice, then succeeds. MaxRetries 1 exhausts after the second
	// attempt, so only the human retry path can complete the task.
	exec := &Simulated{FailTasks: map[string]int{"t1": 2}}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, exec, permissive())
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "flaky deploy", ActionType: "modify_code", MaxRetries: 1})

	done, _ := runAsync(t, env.o)

	var gateID string
	waitFor(t, "escalation gate", func() bool {
		gates, _ := env.repo.ListGates(model.GatePending)
		for _, g := range gates {
			if g.Type == model.GateTaskFailureEscalation && g.TaskID == "t1" {
				gateID = g.ID
				return true
			}
		}
		return false
	})

	task, _ := env.repo.GetTask("t1")
	if task.Status != model.TaskFailed || task.RetryCount != 2 {
		t.Errorf("expected failed after 2 attempts, got %s retry=%d", task.Status, task.RetryCount)
	}
	executed, _ := env.repo.ListAudit(audit.Filter{Decision: "EXECUTED"})
	if len(executed) != 2 {
		t.Errorf("both attempts must be audited, got %d", len(executed))
	}
	cps, _ := env.repo.ListCheckpoints("p1")
	preGate := false
	for _, c := range cps {
		if c.Kind == model.CheckpointPreGate {
			preGate = true
		}
	}
	if !preGate {
		t.Error("escalation must checkpoint before the gate")
	}

	g, _ := env.repo.GetGate(gateID)
	now := time.Now().UTC()
	g.Status = model.GateApproved
	g.ChosenOption = "retry"
	g.DecidedBy = "alice"
	g.ResolvedAt = &now
	if err := env.repo.UpsertGate(g); err != nil {
		t.Fatal(err)
	}

	if err := waitDone(t, done); err != nil {
		t.Fatalf("run should complete after the human retry: %v", err)
	}

	task, _ = env.repo.GetTask("t1")
	if task.Status != model.TaskCompleted {
		t.Errorf("expected completed after retry, got %s", task.Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("human retry resets the budget, got %d", task.RetryCount)
	}
	applied, _ := env.repo.GetGate(gateID)
	if !applied.Applied {
		t.Error("applied gate decision must be marked applied")
	}
	decisions, _ := env.repo.ListAudit(audit.Filter{ActionType: "gate_decision"})
	if len(decisions) != 1 || decisions[0].Decision != "GATE_approved" {
		t.Errorf("gate decision must be audited once: %+v", decisions)
	}
}

func TestEscalationSkipCompletesRun(t *testing.T) {
	exec := &Simulated{FailTasks: map[string]int{"t1": 99}}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, exec, permissive())
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "doomed", ActionType: "modify_code", MaxRetries: 0})
	seedTask(t, env.repo, model.Task{ID: "t2", Title: "independent", ActionType: "run_tests"})

	done, _ := runAsync(t, env.o)

	var gateID string
	waitFor(t, "escalation gate", func() bool {
		gates, _ := env.repo.ListGates(model.GatePending)
		for _, g := range gates {
			if g.Type == model.GateTaskFailureEscalation {
				gateID = g.ID
				return true
			}
		}
		return false
	})

	g, _ := env.repo.GetGate(gateID)
	now := time.Now().UTC()
	g.Status = model.GateApproved
	g.ChosenOption = "skip"
	g.DecidedBy = "alice"
	g.ResolvedAt = &now
	_ = env.repo.UpsertGate(g)

	if err := waitDone(t, done); err != nil {
		t.Fatalf("skipping the failed task should let the run complete: %v", err)
	}
	task, _ := env.repo.GetTask("t1")
	if task.Status != model.TaskSkipped {
		t.Errorf("expected skipped, got %s", task.Status)
	}
	other, _ := env.repo.GetTask("t2")
	if other.Status != model.TaskCompleted {
		t.Errorf("independent task should complete, got %s", other.Status)
	}
}

func TestApprovalSuspendsAndResumes(t *testing.T) {
	pol := permissive()
	pol.RequireApprovalFor = []string{"deploy_prod"}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, &Simulated{}, pol)
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "ship release", ActionType: "deploy_prod", TargetResources: []string{"api/server"}})

	done, _ := runAsync(t, env.o)

	var reqID string
	waitFor(t, "pending approval", func() bool {
		pending, _ := env.requests.Pending()
		if len(pending) == 1 {
			reqID = pending[0].ID
			return true
		}
		return false
	})
	waitFor(t, "task suspension", func() bool {
		task, _ := env.repo.GetTask("t1")
		return task.Status == model.TaskBlocked
	})

	if !env.requests.Approve(reqID, "alice", "go ahead") {
		t.Fatal("approve failed")
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("run should complete after approval: %v", err)
	}

	task, _ := env.repo.GetTask("t1")
	if task.Status != model.TaskCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	// Approved execution bypasses re-evaluation: one approval requirement,
	// one execution.
	required, _ := env.repo.ListAudit(audit.Filter{Decision: "APPROVAL_REQUIRED"})
	if len(required) != 1 {
		t.Errorf("expected one APPROVAL_REQUIRED entry, got %d", len(required))
	}
	executed, _ := env.repo.ListAudit(audit.Filter{Decision: "EXECUTED"})
	if len(executed) != 1 {
		t.Errorf("expected one EXECUTED entry, got %d", len(executed))
	}
	if _, err := env.requests.Get(reqID); err == nil {
		t.Error("consumed request should be gone")
	}
}

func TestApprovalRejectionFailsTask(t *testing.T) {
	pol := permissive()
	pol.RequireApprovalFor = []string{"deploy_prod"}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, &Simulated{}, pol)
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "ship release", ActionType: "deploy_prod"})

	done, _ := runAsync(t, env.o)

	var reqID string
	waitFor(t, "pending approval", func() bool {
		pending, _ := env.requests.Pending()
		if len(pending) == 1 {
			reqID = pending[0].ID
			return true
		}
		return false
	})
	if !env.requests.Reject(reqID, "bob", "too risky") {
		t.Fatal("reject failed")
	}

	if err := waitDone(t, done); err != nil {
		t.Fatalf("a rejected task fails, the run still completes: %v", err)
	}
	if env.o.Snapshot().State != model.RunCompleted {
		t.Errorf("expected completed, got %s", env.o.Snapshot().State)
	}

	task, _ := env.repo.GetTask("t1")
	if task.Status != model.TaskFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
	if len(task.ErrorHistory) == 0 || !strings.Contains(task.ErrorHistory[0], "approval rejected by bob: too risky") {
		t.Errorf("rejection reason lost: %v", task.ErrorHistory)
	}
	// A rejection is a human decision, not an executor failure: no retry, no
	// escalation gate.
	gates, _ := env.repo.ListGates("")
	if len(gates) != 0 {
		t.Errorf("no gate should open on rejection: %+v", gates)
	}
	executed, _ := env.repo.ListAudit(audit.Filter{Decision: "EXECUTED"})
	if len(executed) != 0 {
		t.Errorf("rejected task must never execute, got %d entries", len(executed))
	}
}

func TestBlockedPolicyFailsTaskTerminally(t *testing.T) {
	pol := permissive()
	pol.Blocked = []string{"delete_data"}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, &Simulated{}, pol)
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "wipe table", ActionType: "delete_data", MaxRetries: 3})

	if err := env.o.Run(context.Background()); err != nil {
		t.Fatalf("a policy block fails the task, not the run: %v", err)
	}
	if env.o.Snapshot().State != model.RunCompleted {
		t.Errorf("expected completed, got %s", env.o.Snapshot().State)
	}

	task, _ := env.repo.GetTask("t1")
	if task.Status != model.TaskFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
	// The failure is still reported at the end of the run.
	if done, ok := env.sink.last(events.ProjectCompleted); !ok {
		t.Error("project_completed event missing")
	} else if failed, _ := done.Payload["failed_tasks"].([]string); len(failed) != 1 || failed[0] != "t1" {
		t.Errorf("completion event must name the failed task, got %v", done.Payload["failed_tasks"])
	}
	// Policy blocks are final: no retries, no escalation gate.
	gates, _ := env.repo.ListGates("")
	if len(gates) != 0 {
		t.Errorf("no escalation for a policy block: %+v", gates)
	}
	blocked, _ := env.repo.ListAudit(audit.Filter{Decision: "BLOCKED"})
	if len(blocked) != 1 {
		t.Errorf("expected one BLOCKED audit entry, got %d", len(blocked))
	}
}

func TestAbortFailsRunWithCheckpoint(t *testing.T) {
	pol := permissive()
	pol.RequireApprovalFor = []string{"deploy_prod"}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, &Simulated{}, pol)
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "ship", ActionType: "deploy_prod"})

	done, _ := runAsync(t, env.o)
	waitFor(t, "suspension", func() bool {
		return env.o.Snapshot().AwaitingApprovals == 1
	})

	env.o.Abort("operator abort")
	err := waitDone(t, done)
	if err == nil || !strings.Contains(err.Error(), "operator abort") {
		t.Fatalf("abort reason must surface, got %v", err)
	}
	if env.o.Snapshot().State != model.RunFailed {
		t.Errorf("expected failed, got %s", env.o.Snapshot().State)
	}

	cps, _ := env.repo.ListCheckpoints("p1")
	recovery := false
	for _, c := range cps {
		if c.Kind == model.CheckpointErrorRecovery {
			recovery = true
		}
	}
	if !recovery {
		t.Error("abort must leave an error-recovery checkpoint")
	}
}

func TestCleanCancelParksRunPaused(t *testing.T) {
	pol := permissive()
	pol.RequireApprovalFor = []string{"deploy_prod"}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, &Simulated{}, pol)
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "ship", ActionType: "deploy_prod"})

	done, cancel := runAsync(t, env.o)
	waitFor(t, "suspension", func() bool {
		return env.o.Snapshot().AwaitingApprovals == 1
	})

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("plain cancellation is a clean stop, got %v", err)
	}
	if env.o.Snapshot().State != model.RunPaused {
		t.Errorf("expected paused, got %s", env.o.Snapshot().State)
	}
	cps, _ := env.repo.ListCheckpoints("p1")
	if len(cps) == 0 {
		t.Error("interruption must checkpoint the run")
	}
}

func TestApprovalSurvivesRestart(t *testing.T) {
	pol := permissive()
	pol.RequireApprovalFor = []string{"deploy_prod"}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, &Simulated{}, pol)
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "ship release", ActionType: "deploy_prod"})

	done, cancel := runAsync(t, env.o)

	var reqID string
	waitFor(t, "pending approval", func() bool {
		pending, _ := env.requests.Pending()
		if len(pending) == 1 {
			reqID = pending[0].ID
			return true
		}
		return false
	})
	waitFor(t, "task suspension", func() bool {
		task, _ := env.repo.GetTask("t1")
		return task.Status == model.TaskBlocked
	})

	// Process dies; the approval lands while nothing is running.
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("clean stop failed: %v", err)
	}
	if !env.requests.Approve(reqID, "alice", "approved while down") {
		t.Fatal("approve failed")
	}

	// A fresh process over the same repository must pick the decision up.
	o2 := env.restart(&Simulated{})
	if err := o2.Run(context.Background()); err != nil {
		t.Fatalf("restarted run failed: %v", err)
	}
	if o2.Snapshot().State != model.RunCompleted {
		t.Errorf("expected completed, got %s", o2.Snapshot().State)
	}

	task, _ := env.repo.GetTask("t1")
	if task.Status != model.TaskCompleted {
		t.Errorf("approved task must execute after restart, got %s", task.Status)
	}
	executed, _ := env.repo.ListAudit(audit.Filter{Decision: "EXECUTED"})
	if len(executed) != 1 {
		t.Errorf("expected one EXECUTED entry, got %d", len(executed))
	}
	if _, err := env.requests.Get(reqID); err == nil {
		t.Error("consumed request should be gone")
	}
}

// blockingExec parks every task until its context is cancelled.
type blockingExec struct {
	started chan string
}

func (b *blockingExec) Execute(ctx context.Context, task model.Task, _ model.ActionContext) (model.Outcome, error) {
	b.started <- task.ID
	<-ctx.Done()
	return model.Outcome{}, ctx.Err()
}

func TestAbortMarksInFlightTaskAborted(t *testing.T) {
	exec := &blockingExec{started: make(chan string, 1)}
	env := newTestEnv(t, Config{Mode: model.ModeSequential}, exec, permissive())
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "long migration", ActionType: "migrate_schema", MaxRetries: 3})

	done, _ := runAsync(t, env.o)

	select {
	case <-exec.started:
	case <-time.After(10 * time.Second):
		t.Fatal("task never started")
	}
	env.o.Abort("operator abort")

	err := waitDone(t, done)
	if err == nil || !strings.Contains(err.Error(), "operator abort") {
		t.Fatalf("abort reason must surface, got %v", err)
	}

	task, _ := env.repo.GetTask("t1")
	if task.Status != model.TaskFailed {
		t.Errorf("aborted in-flight task must fail, got %s", task.Status)
	}
	if len(task.ErrorHistory) != 1 || task.ErrorHistory[0] != "aborted" {
		t.Errorf("expected the single reason %q, got %v", "aborted", task.ErrorHistory)
	}
	if task.RetryCount != 0 {
		t.Errorf("an abort is not a retryable failure, got retry=%d", task.RetryCount)
	}
}

func TestStallGateSkipsUnreachableTasks(t *testing.T) {
	env := newTestEnv(t, Config{Mode: model.ModeSequential, MaxStalls: 2}, &Simulated{}, permissive())
	now := time.Now().UTC()
	failedAt := now
	seedTask(t, env.repo, model.Task{ID: "t1", Title: "broken base", ActionType: "modify_code", Status: model.TaskFailed, CompletedAt: &failedAt})
	seedTask(t, env.repo, model.Task{ID: "t2", Title: "stranded", ActionType: "run_tests", Dependencies: []string{"t1"}})

	done, _ := runAsync(t, env.o)

	var gateID string
	waitFor(t, "stall gate", func() bool {
		gates, _ := env.repo.ListGates(model.GatePending)
		for _, g := range gates {
			if g.Type == model.GateCustom && g.Title == "scheduling stalled" {
				gateID = g.ID
				return true
			}
		}
		return false
	})
	if !env.sink.has(events.StallWarning) {
		t.Error("stall warnings should be emitted before the gate")
	}

	g, _ := env.repo.GetGate(gateID)
	ts := time.Now().UTC()
	g.Status = model.GateApproved
	g.ChosenOption = "skip"
	g.DecidedBy = "alice"
	g.ResolvedAt = &ts
	_ = env.repo.UpsertGate(g)

	// The pre-failed task does not fail the run; the gate unblocks the
	// stranded remainder and the run drains to completion.
	if err := waitDone(t, done); err != nil {
		t.Fatalf("expected the run to complete after the skip, got %v", err)
	}
	if env.o.Snapshot().State != model.RunCompleted {
		t.Errorf("expected completed, got %s", env.o.Snapshot().State)
	}
	task, _ := env.repo.GetTask("t2")
	if task.Status != model.TaskSkipped {
		t.Errorf("stranded task should be skipped, got %s", task.Status)
	}
}

func TestSelectBatchModes(t *testing.T) {
	mk := func(mode model.DispatchMode) *Orchestrator {
		return New(Config{Mode: mode, MaxParallel: 2}, store.NewMemory(), nil, nil, nil, nil, nil)
	}
	created := time.Now().UTC()
	tasks := []model.Task{
		{ID: "np", Priority: 90, Status: model.TaskPending, ActionType: "migrate_schema", CreatedAt: created},
		{ID: "p1", Priority: 50, Status: model.TaskPending, Parallelizable: true, ActionType: "modify_code", CreatedAt: created},
		{ID: "p2", Priority: 40, Status: model.TaskPending, Parallelizable: true, ActionType: "modify_code", CreatedAt: created},
		{ID: "p3", Priority: 30, Status: model.TaskPending, Parallelizable: true, ActionType: "modify_code", CreatedAt: created},
	}
	completed := map[string]bool{}

	if batch := mk(model.ModeSequential).selectBatch(tasks, completed); len(batch) != 1 || batch[0].ID != "np" {
		t.Errorf("sequential takes the single top task, got %v", batchIDs(batch))
	}
	if batch := mk(model.ModeParallel).selectBatch(tasks, completed); len(batch) != 2 {
		t.Errorf("parallel is capped at MaxParallel, got %v", batchIDs(batch))
	}
	// Hybrid: a non-parallelizable head runs alone.
	if batch := mk(model.ModeHybrid).selectBatch(tasks, completed); len(batch) != 1 || batch[0].ID != "np" {
		t.Errorf("hybrid must isolate the non-parallelizable head, got %v", batchIDs(batch))
	}
	// With the head done, only parallelizable tasks batch together.
	tasks[0].Status = model.TaskCompleted
	batch := mk(model.ModeHybrid).selectBatch(tasks, map[string]bool{"np": true})
	if len(batch) != 2 || batch[0].ID != "p1" || batch[1].ID != "p2" {
		t.Errorf("hybrid should batch parallelizable tasks up to MaxParallel, got %v", batchIDs(batch))
	}
}

func TestReliabilityMovingAverage(t *testing.T) {
	r := NewReliability()
	if got := r.ScoreFor("modify_code"); got != reliabilitySeed {
		t.Errorf("unseen type should score the seed, got %v", got)
	}

	r.Record("modify_code", true)
	if got := r.ScoreFor("modify_code"); math.Abs(got-0.65) > 1e-9 {
		t.Errorf("after one success: 0.3*1 + 0.7*0.5 = 0.65, got %v", got)
	}
	r.Record("modify_code", false)
	if got := r.ScoreFor("modify_code"); math.Abs(got-0.455) > 1e-9 {
		t.Errorf("after a failure: 0.7*0.65 = 0.455, got %v", got)
	}

	// Independent types do not share state.
	if got := r.ScoreFor("run_tests"); got != reliabilitySeed {
		t.Errorf("other types stay at the seed, got %v", got)
	}
}

func TestActionContextMarkers(t *testing.T) {
	o := New(Config{RecentIncidents: true}, store.NewMemory(), nil, nil, nil, nil, nil)

	actx := o.actionContext(model.Task{
		ActionType:      "update_config",
		Scope:           "billing,payments",
		TargetResources: []string{"prod/db/users", "iam/roles", "a", "b"},
	})
	if !actx.TouchesProd || !actx.TouchesAuth {
		t.Errorf("prod and auth markers missed: %+v", actx)
	}
	if !actx.MultiScope {
		t.Error("comma-separated scope is multi-scope")
	}
	if !actx.RecentIncidents {
		t.Error("incident pressure must carry from run config")
	}
	if actx.EstimatedImpact != model.ImpactMedium {
		t.Errorf("4 resources is medium impact, got %s", actx.EstimatedImpact)
	}

	plain := o.actionContext(model.Task{ActionType: "read_data", Scope: "*"})
	if plain.TouchesProd || plain.TouchesAuth {
		t.Errorf("no markers expected: %+v", plain)
	}
	if !plain.MultiScope {
		t.Error("wildcard scope is multi-scope")
	}
	if plain.EstimatedImpact != model.ImpactLow {
		t.Errorf("no resources is low impact, got %s", plain.EstimatedImpact)
	}
}

func batchIDs(batch []model.Task) []string {
	out := make([]string, len(batch))
	for i, t := range batch {
		out[i] = t.ID
	}
	return out
}

func mustAll(t *testing.T, repo store.Repository) []audit.Entry {
	t.Helper()
	entries, err := repo.ListAudit(audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	return entries
}
