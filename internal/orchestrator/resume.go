package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/steward/internal/events"
	"github.com/ppiankov/steward/internal/model"
)

// rebuildPending reconstructs the approval→task ownership map from persisted
// requests, so a decision granted while the process was down still applies
// after a restart.
func (o *Orchestrator) rebuildPending() {
	pending, err := o.gate.Requests().Pending()
	if err != nil {
		return
	}
	resolved, err := o.gate.Requests().Resolved()
	if err != nil {
		return
	}

	for _, req := range append(pending, resolved...) {
		if req.TaskID == "" {
			continue
		}
		task, err := o.repo.GetTask(req.TaskID)
		if err != nil || task.Status.Terminal() {
			continue
		}
		o.mu.Lock()
		o.pendingExec[req.ID] = req.TaskID
		o.mu.Unlock()
	}
}

// pollApprovals applies human decisions on approval requests that suspended
// tasks. Approved requests execute immediately, bypassing a second
// evaluation; rejected requests fail the task without retry. Resolved
// requests not owned by this run (direct agent checks) are left alone.
func (o *Orchestrator) pollApprovals(ctx context.Context) {
	resolved, err := o.gate.Requests().Resolved()
	if err != nil {
		return
	}

	for _, req := range resolved {
		o.mu.Lock()
		taskID, owned := o.pendingExec[req.ID]
		o.mu.Unlock()
		if !owned {
			continue
		}

		task, err := o.repo.GetTask(taskID)
		if err == nil && !task.Status.Terminal() {
			switch req.Status {
			case model.ApprovalApproved:
				o.noteHistory("human", fmt.Sprintf("approval %s granted by %s for task %s", req.ID, req.Approver, taskID))
				task.Status = model.TaskPending
				o.execute(ctx, task, req.Context, req.RiskScore)
			case model.ApprovalRejected:
				now := time.Now().UTC()
				reason := fmt.Sprintf("approval rejected by %s", req.Approver)
				if req.Comment != "" {
					reason += ": " + req.Comment
				}
				task.Status = model.TaskFailed
				task.CompletedAt = &now
				task.ErrorHistory = append(task.ErrorHistory, reason)
				_ = o.repo.UpsertTask(task)
				o.noteFailedApproach(fmt.Sprintf("task %s: %s", taskID, reason))
				o.emit(events.Event{Type: events.TaskFailed, TaskID: taskID, Payload: map[string]any{
					"reason": reason,
					"final":  true,
				}})
			}
		}

		o.mu.Lock()
		delete(o.pendingExec, req.ID)
		o.mu.Unlock()
		_ = o.gate.Requests().Consume(req.ID)
	}
}
