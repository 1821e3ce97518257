// Package graph computes the ready-to-run subset of a task dependency graph.
// Graphs are assumed acyclic by construction upstream; a stall is a signal
// for the orchestrator, not an error here.
package graph

import (
	"sort"

	"github.com/ppiankov/steward/internal/model"
)

// CompletedSet collects the IDs of successfully completed tasks.
func CompletedSet(tasks []model.Task) map[string]bool {
	done := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == model.TaskCompleted {
			done[t.ID] = true
		}
	}
	return done
}

// depsSatisfied reports whether every dependency of t is completed.
func depsSatisfied(t model.Task, completed map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// ReadyTasks returns the tasks eligible to execute, ordered by priority
// descending then creation time ascending, truncated to maxN (0 = no limit).
// A task is ready iff its status is pending or ready and every dependency is
// in the completed set. The pending-to-ready view is idempotent: statuses are
// not mutated here.
func ReadyTasks(tasks []model.Task, completed map[string]bool, maxN int) []model.Task {
	var ready []model.Task
	for _, t := range tasks {
		if t.Status != model.TaskPending && t.Status != model.TaskReady {
			continue
		}
		if depsSatisfied(t, completed) {
			ready = append(ready, t)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if maxN > 0 && len(ready) > maxN {
		ready = ready[:maxN]
	}
	return ready
}

// Incomplete reports whether any task is still non-terminal.
func Incomplete(tasks []model.Task) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return true
		}
	}
	return false
}

// Stalled reports the stall condition: nothing ready, nothing in flight, yet
// incomplete tasks remain.
func Stalled(tasks []model.Task, completed map[string]bool, inFlight int) bool {
	if inFlight > 0 {
		return false
	}
	if !Incomplete(tasks) {
		return false
	}
	return len(ReadyTasks(tasks, completed, 0)) == 0
}
