package orchestrator

import (
	"context"
	"fmt"

	"github.com/ppiankov/steward/internal/model"
)

// Executor is the external unit-of-work runner. It is opaque and may be
// long-running; the orchestrator bounds every call with a timeout.
type Executor interface {
	Execute(ctx context.Context, task model.Task, actx model.ActionContext) (model.Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task model.Task, actx model.ActionContext) (model.Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task model.Task, actx model.ActionContext) (model.Outcome, error) {
	return f(ctx, task, actx)
}

// Simulated is an executor for dry runs and demos: every task succeeds and
// reports its declared target resources as modified. FailTasks injects
// failures by task ID with a remaining-failure count.
type Simulated struct {
	FailTasks map[string]int
}

// Execute simulates one unit of work.
func (s *Simulated) Execute(ctx context.Context, task model.Task, actx model.ActionContext) (model.Outcome, error) {
	select {
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	default:
	}

	if s.FailTasks != nil && s.FailTasks[task.ID] > 0 {
		s.FailTasks[task.ID]--
		return model.Outcome{
			Success: false,
			Error:   fmt.Sprintf("simulated failure for %s", task.ID),
		}, nil
	}

	return model.Outcome{
		Success:           true,
		Outputs:           map[string]string{"simulated": "true"},
		ModifiedResources: append([]string(nil), task.TargetResources...),
	}, nil
}
