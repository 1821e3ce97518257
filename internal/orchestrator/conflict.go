package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/events"
	"github.com/ppiankov/steward/internal/model"
)

// resolveConflicts inspects the modified-resource sets of the tasks that
// completed in one batch. Overlaps between the same group of tasks collapse
// into a single conflict record; completed work is never un-done, the record
// names whose change is considered authoritative.
func (o *Orchestrator) resolveConflicts(results []batchResult) {
	succeeded := results[:0:0]
	for _, r := range results {
		if r.succeeded {
			succeeded = append(succeeded, r)
		}
	}
	if len(succeeded) < 2 {
		return
	}

	byResource := make(map[string][]int)
	for i, r := range succeeded {
		seen := make(map[string]bool)
		for _, res := range r.modified {
			if seen[res] {
				continue
			}
			seen[res] = true
			byResource[res] = append(byResource[res], i)
		}
	}

	// Group overlapping resources by the set of tasks involved so one pair
	// of tasks yields one conflict no matter how many resources they share.
	groups := make(map[string]*model.Conflict)
	for resource, owners := range byResource {
		if len(owners) < 2 {
			continue
		}
		ids := make([]string, len(owners))
		for i, idx := range owners {
			ids[i] = succeeded[idx].taskID
		}
		sort.Strings(ids)
		key := strings.Join(ids, "|")

		c, ok := groups[key]
		if !ok {
			c = &model.Conflict{
				ID:         model.NewID("cf"),
				TaskIDs:    ids,
				DetectedAt: model.UTCNowISO(),
			}
			groups[key] = c
		}
		c.Resources = append(c.Resources, resource)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c := groups[key]
		sort.Strings(c.Resources)
		winner := o.pickWinner(succeeded, c.TaskIDs)
		c.WinnerID = winner.taskID
		c.Resolution = fmt.Sprintf("task %s wins on %s reliability %.2f",
			winner.taskID, winner.actionType, o.reliability.ScoreFor(winner.actionType))
		o.recordConflict(*c)
	}
}

// pickWinner ranks the conflicting tasks: best action-type reliability first,
// then higher priority, then the lexicographically smaller task ID.
func (o *Orchestrator) pickWinner(results []batchResult, taskIDs []string) batchResult {
	var involved []batchResult
	for _, r := range results {
		for _, id := range taskIDs {
			if r.taskID == id {
				involved = append(involved, r)
			}
		}
	}

	sort.Slice(involved, func(i, j int) bool {
		a, b := involved[i], involved[j]
		sa, sb := o.reliability.ScoreFor(a.actionType), o.reliability.ScoreFor(b.actionType)
		if sa != sb {
			return sa > sb
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.taskID < b.taskID
	})
	return involved[0]
}

func (o *Orchestrator) recordConflict(c model.Conflict) {
	o.mu.Lock()
	o.conflicts = append(o.conflicts, c)
	o.mu.Unlock()

	o.trail.Record(audit.Entry{
		Actor:      o.cfg.Actor,
		Org:        o.cfg.Org,
		ActionType: "conflict_resolution",
		Decision:   "RESOLVED",
		Reason:     c.Resolution,
		Artifacts: map[string]string{
			"conflict_id": c.ID,
			"tasks":       strings.Join(c.TaskIDs, ","),
			"resources":   strings.Join(c.Resources, ","),
			"winner":      c.WinnerID,
		},
	})

	o.noteHistory("orchestrator", fmt.Sprintf("conflict %s between %s resolved in favor of %s",
		c.ID, strings.Join(c.TaskIDs, ", "), c.WinnerID))
	o.emit(events.Event{Type: events.ConflictDetected, Payload: map[string]any{
		"conflict_id": c.ID,
		"tasks":       c.TaskIDs,
		"resources":   c.Resources,
		"winner":      c.WinnerID,
	}})
}
