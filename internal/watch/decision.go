// Package watch applies out-of-band human decisions dropped as JSON files
// into a watched directory. Each file resolves one approval request or one
// gate and is removed once applied.
package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/steward/internal/gate"
	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/store"
)

// Decision kinds.
const (
	KindApproval = "approval"
	KindGate     = "gate"
)

// Decision is the on-disk format of one human decision file.
type Decision struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Approve bool   `json:"approve"`
	Option  string `json:"option,omitempty"`
	By      string `json:"by"`
	Comment string `json:"comment,omitempty"`
}

// Applier resolves decisions against the request store and the gate records.
type Applier struct {
	requests *gate.Requests
	repo     store.Repository
}

// NewApplier creates an applier.
func NewApplier(requests *gate.Requests, repo store.Repository) *Applier {
	return &Applier{requests: requests, repo: repo}
}

// ApplyFile reads, applies, and removes one decision file. Malformed files
// are removed too; leaving them would re-trigger forever.
func (a *Applier) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read decision file: %w", err)
	}
	defer func() { _ = os.Remove(path) }()

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("parse decision file %s: %w", path, err)
	}
	return a.Apply(d)
}

// Apply resolves one decision.
func (a *Applier) Apply(d Decision) error {
	if d.ID == "" || d.By == "" {
		return fmt.Errorf("decision requires id and by")
	}

	switch d.Kind {
	case KindApproval:
		ok := false
		if d.Approve {
			ok = a.requests.Approve(d.ID, d.By, d.Comment)
		} else {
			ok = a.requests.Reject(d.ID, d.By, d.Comment)
		}
		if !ok {
			return fmt.Errorf("approval %s is not pending", d.ID)
		}
		return nil

	case KindGate:
		g, err := a.repo.GetGate(d.ID)
		if err != nil {
			return fmt.Errorf("gate %s: %w", d.ID, err)
		}
		if g.Resolved() {
			return fmt.Errorf("gate %s already resolved", d.ID)
		}
		now := time.Now().UTC()
		if d.Approve {
			g.Status = model.GateApproved
		} else {
			g.Status = model.GateRejected
		}
		g.ChosenOption = d.Option
		g.DecidedBy = d.By
		g.DecisionReason = d.Comment
		g.ResolvedAt = &now
		return a.repo.UpsertGate(g)

	default:
		return fmt.Errorf("unknown decision kind %q", d.Kind)
	}
}
