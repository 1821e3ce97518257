package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/events"
	"github.com/ppiankov/steward/internal/model"
)

// Gate option IDs the orchestrator understands.
const (
	optionRetry = "retry"
	optionSkip  = "skip"
	optionAbort = "abort"
	optionWait  = "wait"
)

// openEscalationGate raises a blocking gate for a task that exhausted its
// retries. A pre-gate checkpoint is taken first so the chosen option always
// has a restore point behind it.
func (o *Orchestrator) openEscalationGate(ctx context.Context, task model.Task) {
	o.saveCheckpoint(ctx, model.CheckpointPreGate, fmt.Sprintf("escalation for task %s", task.ID))

	g := model.HumanCheckpointGate{
		ID:          model.NewID("gate"),
		Type:        model.GateTaskFailureEscalation,
		Title:       fmt.Sprintf("task %s failed after %d attempts", task.ID, task.RetryCount),
		Description: lastError(task),
		TaskID:      task.ID,
		Options: []model.GateOption{
			{ID: optionRetry, Label: "Retry the task", TradeOff: "resets the retry budget, may fail again"},
			{ID: optionSkip, Label: "Skip the task", TradeOff: "dependents of this task will never run"},
			{ID: optionAbort, Label: "Abort the run", TradeOff: "remaining tasks are abandoned"},
		},
		Status:         model.GatePending,
		Priority:       task.Priority,
		BlocksProgress: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.repo.UpsertGate(g); err != nil {
		return
	}

	o.noteHistory("orchestrator", fmt.Sprintf("escalation gate %s opened for task %s", g.ID, task.ID))
	o.emit(events.Event{Type: events.GateTriggered, TaskID: task.ID, Payload: map[string]any{
		"gate_id": g.ID,
		"type":    string(g.Type),
	}})
}

// noteStall counts consecutive stalled iterations and, past the tolerance,
// raises a blocking gate instead of spinning forever.
func (o *Orchestrator) noteStall(ctx context.Context) {
	o.mu.Lock()
	o.stallStreak++
	streak := o.stallStreak
	hasGate := o.stallGateID != ""
	o.mu.Unlock()

	o.emit(events.Event{Type: events.StallWarning, Payload: map[string]any{
		"streak": streak,
	}})

	if streak < o.cfg.MaxStalls || hasGate {
		return
	}

	o.saveCheckpoint(ctx, model.CheckpointPreGate, "scheduling stalled")
	g := model.HumanCheckpointGate{
		ID:          model.NewID("gate"),
		Type:        model.GateCustom,
		Title:       "scheduling stalled",
		Description: fmt.Sprintf("no task became ready for %d consecutive iterations", streak),
		Options: []model.GateOption{
			{ID: optionWait, Label: "Keep waiting", TradeOff: "the stall may persist"},
			{ID: optionSkip, Label: "Skip unreachable tasks", TradeOff: "incomplete tasks are marked skipped"},
			{ID: optionAbort, Label: "Abort the run", TradeOff: "remaining tasks are abandoned"},
		},
		Status:         model.GatePending,
		Priority:       100,
		BlocksProgress: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.repo.UpsertGate(g); err != nil {
		return
	}

	o.mu.Lock()
	o.stallGateID = g.ID
	o.mu.Unlock()

	o.emit(events.Event{Type: events.GateTriggered, Payload: map[string]any{
		"gate_id": g.ID,
		"type":    string(g.Type),
	}})
}

func (o *Orchestrator) resetStall() {
	o.mu.Lock()
	o.stallStreak = 0
	o.stallGateID = ""
	o.mu.Unlock()
}

// applyGateDecisions acts on resolved gates exactly once. A rejected gate
// with no chosen option falls back to the conservative choice for its type.
func (o *Orchestrator) applyGateDecisions(ctx context.Context) {
	gates, err := o.repo.ListGates("")
	if err != nil {
		return
	}

	for _, g := range gates {
		if !g.Resolved() || g.Applied {
			continue
		}

		switch g.Type {
		case model.GateTaskFailureEscalation:
			o.applyEscalationChoice(g)
		case model.GateCustom:
			o.applyStallChoice(g)
		}

		g.Applied = true
		_ = o.repo.UpsertGate(g)

		o.trail.Record(audit.Entry{
			Actor:      g.DecidedBy,
			Org:        o.cfg.Org,
			ActionType: "gate_decision",
			Decision:   "GATE_" + string(g.Status),
			Reason:     fmt.Sprintf("gate %s (%s): %s", g.ID, g.Type, g.ChosenOption),
			Artifacts:  map[string]string{"gate_id": g.ID, "option": g.ChosenOption},
		})
		o.noteHistory("human", fmt.Sprintf("gate %s resolved: %s (%s)", g.ID, g.Status, g.ChosenOption))
	}
}

func (o *Orchestrator) applyEscalationChoice(g model.HumanCheckpointGate) {
	choice := g.ChosenOption
	if g.Status == model.GateRejected && choice == "" {
		choice = optionSkip
	}

	task, err := o.repo.GetTask(g.TaskID)
	if err != nil {
		return
	}

	switch choice {
	case optionRetry:
		task.RetryCount = 0
		task.Status = model.TaskPending
		task.StartedAt = nil
		task.CompletedAt = nil
		_ = o.repo.UpsertTask(task)
	case optionSkip:
		task.Status = model.TaskSkipped
		_ = o.repo.UpsertTask(task)
	case optionAbort:
		o.Abort(fmt.Sprintf("aborted at gate %s", g.ID))
	}
}

func (o *Orchestrator) applyStallChoice(g model.HumanCheckpointGate) {
	choice := g.ChosenOption
	if g.Status == model.GateRejected && choice == "" {
		choice = optionAbort
	}

	switch choice {
	case optionWait:
		o.resetStall()
	case optionSkip:
		tasks, err := o.repo.ListTasks()
		if err != nil {
			return
		}
		for _, t := range tasks {
			if !t.Status.Terminal() {
				t.Status = model.TaskSkipped
				_ = o.repo.UpsertTask(t)
			}
		}
		o.resetStall()
	case optionAbort:
		o.Abort(fmt.Sprintf("aborted at gate %s", g.ID))
	}
}

func lastError(t model.Task) string {
	if len(t.ErrorHistory) == 0 {
		return ""
	}
	return t.ErrorHistory[len(t.ErrorHistory)-1]
}
