package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/model"
)

// Ledger is the dedicated rollback record store.
type Ledger interface {
	AppendRollback(r model.RollbackRecord) error
	ListRollbacks(actionID string) ([]model.RollbackRecord, error)
}

// Outcome is the result of a rollback attempt. Refusals are normal results,
// not errors.
type Outcome struct {
	Success  bool   `json:"success"`
	Refused  bool   `json:"refused"`
	Strategy string `json:"strategy,omitempty"`
	Message  string `json:"message"`
}

// Controller executes compensating actions against the audit trail. The
// first registered strategy that supports an action wins.
type Controller struct {
	trail      audit.Reader
	log        *audit.Log
	ledger     Ledger
	strategies []Strategy
	now        func() time.Time
}

// New creates a controller with the reference strategies.
func New(trail audit.Reader, log *audit.Log, ledger Ledger) *Controller {
	return &Controller{
		trail:      trail,
		log:        log,
		ledger:     ledger,
		strategies: DefaultStrategies(),
		now:        time.Now,
	}
}

// Register appends a strategy to the registry. Order matters.
func (c *Controller) Register(s Strategy) {
	c.strategies = append(c.strategies, s)
}

// SetClock overrides the time source. For tests.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// CanRollback reports whether the action can be rolled back and, when it
// cannot, why. Refusal is a value, never an error.
func (c *Controller) CanRollback(actionID string) (bool, string) {
	_, _, reason := c.check(actionID)
	return reason == "", reason
}

func (c *Controller) check(actionID string) (audit.Entry, Strategy, string) {
	entry, ok := c.findEntry(actionID)
	if !ok {
		return audit.Entry{}, nil, fmt.Sprintf("action %s not found in audit trail", actionID)
	}
	if !entry.RollbackAvailable {
		return entry, nil, fmt.Sprintf("action %s did not record a rollback capability", actionID)
	}

	past, err := c.ledger.ListRollbacks(actionID)
	if err == nil {
		for _, r := range past {
			if r.Success {
				return entry, nil, fmt.Sprintf("action %s was already rolled back (%s)", actionID, r.Timestamp)
			}
		}
	}

	window := WindowFor(entry.ActionType)
	if age := c.now().UTC().Sub(entry.Time()); age > window {
		return entry, nil, fmt.Sprintf("action %s is outside its %s rollback window", actionID, window)
	}

	for _, s := range c.strategies {
		if s.Supports(entry.ActionType, entry.Artifacts) {
			return entry, s, ""
		}
	}
	return entry, nil, fmt.Sprintf("no strategy supports action type %q", entry.ActionType)
}

// Rollback attempts to undo the action. Every attempt — success, failure, or
// refusal — lands in the ledger and the audit trail.
func (c *Controller) Rollback(ctx context.Context, actionID, requester, reason string) Outcome {
	entry, strategy, refusal := c.check(actionID)
	if refusal != "" {
		out := Outcome{Refused: true, Message: refusal}
		c.record(actionID, requester, reason, "", out)
		c.auditAttempt(entry, actionID, requester, out)
		return out
	}

	success, message := strategy.Execute(ctx, actionID, entry.Artifacts)
	out := Outcome{Success: success, Strategy: strategy.Name(), Message: message}
	c.record(actionID, requester, reason, strategy.Name(), out)
	c.auditAttempt(entry, actionID, requester, out)
	return out
}

func (c *Controller) record(actionID, requester, reason, strategy string, out Outcome) {
	_ = c.ledger.AppendRollback(model.RollbackRecord{
		ID:        model.NewID("rb"),
		ActionID:  actionID,
		Strategy:  strategy,
		Requester: requester,
		Reason:    reason,
		Success:   out.Success,
		Refused:   out.Refused,
		Message:   out.Message,
		Timestamp: model.UTCNowISO(),
	})
}

func (c *Controller) auditAttempt(entry audit.Entry, actionID, requester string, out Outcome) {
	if c.log == nil {
		return
	}
	decision := "ROLLBACK_FAILED"
	switch {
	case out.Success:
		decision = "ROLLBACK_EXECUTED"
	case out.Refused:
		decision = "ROLLBACK_REFUSED"
	}
	c.log.Record(audit.Entry{
		Actor:      requester,
		Org:        entry.Org,
		ActionType: entry.ActionType,
		Decision:   decision,
		Reason:     out.Message,
		Artifacts:  map[string]string{"action_id": actionID, "strategy": out.Strategy},
	})
}

func (c *Controller) findEntry(actionID string) (audit.Entry, bool) {
	entries, err := c.trail.ListAudit(audit.Filter{})
	if err != nil {
		return audit.Entry{}, false
	}
	for _, e := range entries {
		if e.ID == actionID {
			return e, true
		}
	}
	return audit.Entry{}, false
}
