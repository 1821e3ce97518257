package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/events"
	"github.com/ppiankov/steward/internal/graph"
	"github.com/ppiankov/steward/internal/model"
)

// batchResult carries what conflict resolution needs from one dispatched
// task.
type batchResult struct {
	taskID     string
	actionType string
	priority   int
	succeeded  bool
	modified   []string
}

// selectBatch picks the tasks to dispatch this iteration.
//
// Sequential runs one task at a time. Parallel takes the top MaxParallel
// ready tasks. Hybrid respects the parallelizable flag: a non-parallelizable
// task at the head of the queue runs alone, otherwise only parallelizable
// tasks batch together.
func (o *Orchestrator) selectBatch(tasks []model.Task, completed map[string]bool) []model.Task {
	ready := graph.ReadyTasks(tasks, completed, 0)
	if len(ready) == 0 {
		return nil
	}

	switch o.cfg.Mode {
	case model.ModeSequential:
		return ready[:1]
	case model.ModeParallel:
		if len(ready) > o.cfg.MaxParallel {
			ready = ready[:o.cfg.MaxParallel]
		}
		return ready
	default: // hybrid
		if !ready[0].Parallelizable {
			return ready[:1]
		}
		var batch []model.Task
		for _, t := range ready {
			if !t.Parallelizable {
				continue
			}
			batch = append(batch, t)
			if len(batch) == o.cfg.MaxParallel {
				break
			}
		}
		return batch
	}
}

// runBatch dispatches every task in the batch concurrently and waits for all
// of them. Each task gets its own execution timeout.
func (o *Orchestrator) runBatch(ctx context.Context, batch []model.Task) []batchResult {
	results := make([]batchResult, len(batch))
	var wg sync.WaitGroup
	for i, t := range batch {
		wg.Add(1)
		go func(i int, t model.Task) {
			defer wg.Done()
			results[i] = o.dispatch(ctx, t)
		}(i, t)
	}
	wg.Wait()
	return results
}

// dispatch runs one task through governance and, when permitted, execution.
func (o *Orchestrator) dispatch(ctx context.Context, task model.Task) batchResult {
	res := batchResult{taskID: task.ID, actionType: task.ActionType, priority: task.Priority}

	actx := o.actionContext(task)
	eval := o.gate.Evaluate(actx, task.Title)

	switch eval.Decision {
	case model.Blocked:
		now := time.Now().UTC()
		task.Status = model.TaskFailed
		task.CompletedAt = &now
		task.ErrorHistory = append(task.ErrorHistory, eval.Rule)
		_ = o.repo.UpsertTask(task)
		o.noteFailedApproach(fmt.Sprintf("task %s blocked: %s", task.ID, eval.Rule))
		o.emit(events.Event{Type: events.TaskFailed, TaskID: task.ID, Payload: map[string]any{
			"reason": eval.Rule,
			"final":  true,
		}})
		return res

	case model.Approval:
		if eval.RequestID == "" {
			// Request store degraded; leave the task pending and retry the
			// evaluation next iteration.
			return res
		}
		task.Status = model.TaskBlocked
		_ = o.repo.UpsertTask(task)
		o.mu.Lock()
		o.pendingExec[eval.RequestID] = task.ID
		o.mu.Unlock()
		_ = o.gate.Requests().Claim(eval.RequestID, task.ID)
		o.noteHistory("orchestrator", fmt.Sprintf("task %s suspended awaiting approval %s", task.ID, eval.RequestID))
		o.emit(events.Event{Type: events.ApprovalRequested, TaskID: task.ID, Payload: map[string]any{
			"request_id": eval.RequestID,
			"risk_score": eval.RiskScore,
		}})
		return res

	default: // auto
		return o.execute(ctx, task, actx, eval.RiskScore)
	}
}

// execute runs the task via the external executor under the per-task timeout
// and applies the outcome.
func (o *Orchestrator) execute(ctx context.Context, task model.Task, actx model.ActionContext, riskScore float64) batchResult {
	now := time.Now().UTC()
	task.Status = model.TaskInProgress
	task.StartedAt = &now
	_ = o.repo.UpsertTask(task)
	o.emit(events.Event{Type: events.TaskStarted, TaskID: task.ID, Payload: map[string]any{
		"title": task.Title,
	}})

	execCtx, cancel := context.WithTimeout(ctx, o.cfg.ExecTimeout)
	outcome, err := o.exec.Execute(execCtx, task, actx)
	cancel()
	if ctx.Err() != nil && (err != nil || !outcome.Success) {
		return o.interrupt(task)
	}
	if err != nil {
		outcome = model.Outcome{Success: false, Error: err.Error()}
	}

	return o.applyOutcome(ctx, task, riskScore, outcome)
}

// interrupt records a task cut short by run cancellation. An abort fails the
// task terminally; a plain cancel returns it to pending for the next run
// without burning a retry.
func (o *Orchestrator) interrupt(task model.Task) batchResult {
	res := batchResult{taskID: task.ID, actionType: task.ActionType, priority: task.Priority}

	if o.abortedReason() == "" {
		task.Status = model.TaskPending
		task.StartedAt = nil
		_ = o.repo.UpsertTask(task)
		return res
	}

	now := time.Now().UTC()
	task.Status = model.TaskFailed
	task.CompletedAt = &now
	task.ErrorHistory = append(task.ErrorHistory, "aborted")
	_ = o.repo.UpsertTask(task)
	o.noteFailedApproach(fmt.Sprintf("task %s aborted mid-flight", task.ID))
	o.emit(events.Event{Type: events.TaskFailed, TaskID: task.ID, Payload: map[string]any{
		"reason": "aborted",
		"final":  true,
	}})
	return res
}

// applyOutcome records the execution result, schedules retries, and
// escalates exhausted failures to a human gate.
func (o *Orchestrator) applyOutcome(ctx context.Context, task model.Task, riskScore float64, outcome model.Outcome) batchResult {
	res := batchResult{taskID: task.ID, actionType: task.ActionType, priority: task.Priority}
	o.reliability.Record(task.ActionType, outcome.Success)
	o.recordExecution(task, riskScore, outcome)

	now := time.Now().UTC()
	if outcome.Success {
		task.Status = model.TaskCompleted
		task.CompletedAt = &now
		if task.Outputs == nil {
			task.Outputs = map[string]string{}
		}
		for k, v := range outcome.Outputs {
			task.Outputs[k] = v
		}
		task.ModifiedResources = append([]string(nil), outcome.ModifiedResources...)
		_ = o.repo.UpsertTask(task)

		o.noteHistory("orchestrator", fmt.Sprintf("task %s (%s) completed", task.ID, task.Title))
		o.noteFileMods(outcome.ModifiedResources)
		o.emit(events.Event{Type: events.TaskCompleted, TaskID: task.ID, Payload: map[string]any{
			"modified_resources": outcome.ModifiedResources,
		}})

		res.succeeded = true
		res.modified = outcome.ModifiedResources
		return res
	}

	task.RetryCount++
	task.ErrorHistory = append(task.ErrorHistory, outcome.Error)
	o.noteError(fmt.Sprintf("task %s attempt %d: %s", task.ID, task.RetryCount, outcome.Error))

	if task.RetryCount > task.MaxRetries {
		task.Status = model.TaskFailed
		task.CompletedAt = &now
		_ = o.repo.UpsertTask(task)
		o.noteFailedApproach(fmt.Sprintf("task %s failed after %d attempts: %s", task.ID, task.RetryCount, outcome.Error))
		o.emit(events.Event{Type: events.TaskFailed, TaskID: task.ID, Payload: map[string]any{
			"reason": outcome.Error,
			"final":  true,
		}})
		o.openEscalationGate(ctx, task)
		return res
	}

	task.Status = model.TaskPending
	task.StartedAt = nil
	_ = o.repo.UpsertTask(task)
	o.emit(events.Event{Type: events.TaskFailed, TaskID: task.ID, Payload: map[string]any{
		"reason":     outcome.Error,
		"will_retry": true,
		"attempt":    task.RetryCount,
	}})
	return res
}

// recordExecution appends the executed action to the audit trail. Successful
// executions are marked rollback-available; the outputs become the artifacts
// a rollback strategy may consume later.
func (o *Orchestrator) recordExecution(task model.Task, riskScore float64, outcome model.Outcome) {
	artifacts := map[string]string{"task_id": task.ID}
	for k, v := range outcome.Outputs {
		artifacts[k] = v
	}
	reason := fmt.Sprintf("task %s executed", task.ID)
	if !outcome.Success {
		reason = fmt.Sprintf("task %s execution failed", task.ID)
	}
	outcomeCopy := outcome
	o.trail.Record(audit.Entry{
		Actor:             o.cfg.Actor,
		Org:               o.cfg.Org,
		ActionType:        task.ActionType,
		Decision:          "EXECUTED",
		RiskScore:         riskScore,
		Reason:            reason,
		Artifacts:         artifacts,
		RollbackAvailable: outcome.Success,
		Result:            &outcomeCopy,
	})
}

// actionContext derives the governance context for a task. Auth and prod
// sensitivity come from resource and scope markers; incident pressure comes
// from run config.
func (o *Orchestrator) actionContext(t model.Task) model.ActionContext {
	actx := model.ActionContext{
		ActionType:      t.ActionType,
		TargetResources: t.TargetResources,
		Scope:           t.Scope,
		Actor:           o.cfg.Actor,
		Org:             o.cfg.Org,
		RecentIncidents: o.cfg.RecentIncidents,
		EstimatedImpact: impactOf(t),
		MultiScope:      strings.Contains(t.Scope, ",") || t.Scope == "*",
	}
	probe := strings.ToLower(t.Scope)
	for _, r := range t.TargetResources {
		probe += " " + strings.ToLower(r)
	}
	for _, marker := range []string{"auth", "iam", "secret", "credential"} {
		if strings.Contains(probe, marker) {
			actx.TouchesAuth = true
			break
		}
	}
	if strings.Contains(probe, "prod") {
		actx.TouchesProd = true
	}
	return actx
}

func impactOf(t model.Task) model.Impact {
	switch {
	case len(t.TargetResources) > 5:
		return model.ImpactHigh
	case len(t.TargetResources) > 2:
		return model.ImpactMedium
	default:
		return model.ImpactLow
	}
}

func (o *Orchestrator) noteError(msg string) {
	o.mu.Lock()
	o.errorHistory = append(o.errorHistory, msg)
	o.mu.Unlock()
}

func (o *Orchestrator) noteFailedApproach(msg string) {
	o.mu.Lock()
	o.failedApproaches = append(o.failedApproaches, msg)
	o.mu.Unlock()
}

func (o *Orchestrator) noteFileMods(paths []string) {
	if len(paths) == 0 {
		return
	}
	o.mu.Lock()
	o.fileMods = append(o.fileMods, paths...)
	o.mu.Unlock()
}
