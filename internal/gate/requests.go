package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/steward/internal/model"
)

// RequestBackend is the persistence surface for approval requests.
type RequestBackend interface {
	UpsertApproval(r model.ApprovalRequest) error
	GetApproval(id string) (model.ApprovalRequest, error)
	ListApprovals(status model.ApprovalStatus) ([]model.ApprovalRequest, error)
	DeleteApproval(id string) error
}

// Requests manages pending approval requests: one live request per action
// fingerprint, 24h expiry, approve/reject by ID.
type Requests struct {
	mu      sync.Mutex
	backend RequestBackend
	ttl     time.Duration
	now     func() time.Time
}

// NewRequests creates a request store with the default 24h TTL.
func NewRequests(backend RequestBackend) *Requests {
	return &Requests{
		backend: backend,
		ttl:     model.DefaultApprovalTTL,
		now:     time.Now,
	}
}

// SetTTL overrides the request TTL. For tests.
func (rs *Requests) SetTTL(ttl time.Duration) { rs.ttl = ttl }

// SetClock overrides the time source. For tests.
func (rs *Requests) SetClock(now func() time.Time) { rs.now = now }

// Create opens an approval request for the action, or returns the existing
// live request with the same fingerprint. Idempotent per fingerprint.
func (rs *Requests) Create(ctx model.ActionContext, riskScore float64, reasons []string, planSummary string) (model.ApprovalRequest, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := rs.now().UTC()
	fp := ctx.Fingerprint()

	pending, err := rs.backend.ListApprovals(model.ApprovalPending)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("list pending approvals: %w", err)
	}
	for _, p := range pending {
		if p.Fingerprint == fp && !p.Expired(now) {
			return p, nil
		}
	}

	r := model.ApprovalRequest{
		ID:          model.NewID("ap"),
		ActionType:  ctx.ActionType,
		Fingerprint: fp,
		Context:     ctx,
		RiskScore:   riskScore,
		RiskReasons: reasons,
		Requester:   ctx.Actor,
		Org:         ctx.Org,
		PlanSummary: planSummary,
		Status:      model.ApprovalPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(rs.ttl),
	}
	if err := rs.backend.UpsertApproval(r); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("persist approval request: %w", err)
	}
	return r, nil
}

// Approve resolves a pending request. Returns false for unknown or expired
// IDs; an expired request is purged on the way out.
func (rs *Requests) Approve(id, approver, comment string) bool {
	return rs.resolve(id, approver, comment, model.ApprovalApproved)
}

// Reject resolves a pending request negatively. Same unknown/expired
// semantics as Approve.
func (rs *Requests) Reject(id, approver, comment string) bool {
	return rs.resolve(id, approver, comment, model.ApprovalRejected)
}

func (rs *Requests) resolve(id, approver, comment string, status model.ApprovalStatus) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, err := rs.backend.GetApproval(id)
	if err != nil {
		return false
	}
	now := rs.now().UTC()
	if r.Expired(now) {
		_ = rs.backend.DeleteApproval(id)
		return false
	}
	if r.Status != model.ApprovalPending {
		return false
	}

	r.Status = status
	r.Approver = approver
	r.Comment = comment
	r.ResolvedAt = &now
	if err := rs.backend.UpsertApproval(r); err != nil {
		return false
	}
	return true
}

// Claim ties a request to the task it suspended. The binding is persisted so
// a restarted orchestrator can rebuild its pending-execution map.
func (rs *Requests) Claim(id, taskID string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, err := rs.backend.GetApproval(id)
	if err != nil {
		return err
	}
	r.TaskID = taskID
	return rs.backend.UpsertApproval(r)
}

// Get returns a request by ID.
func (rs *Requests) Get(id string) (model.ApprovalRequest, error) {
	return rs.backend.GetApproval(id)
}

// Pending lists all live (non-expired) pending requests.
func (rs *Requests) Pending() ([]model.ApprovalRequest, error) {
	pending, err := rs.backend.ListApprovals(model.ApprovalPending)
	if err != nil {
		return nil, err
	}
	now := rs.now().UTC()
	live := pending[:0]
	for _, p := range pending {
		if !p.Expired(now) {
			live = append(live, p)
		}
	}
	return live, nil
}

// Resolved lists requests a human has decided, ready for the orchestrator to
// act on and consume.
func (rs *Requests) Resolved() ([]model.ApprovalRequest, error) {
	approved, err := rs.backend.ListApprovals(model.ApprovalApproved)
	if err != nil {
		return nil, err
	}
	rejected, err := rs.backend.ListApprovals(model.ApprovalRejected)
	if err != nil {
		return nil, err
	}
	return append(approved, rejected...), nil
}

// Consume removes a resolved request once the orchestrator has applied it.
func (rs *Requests) Consume(id string) error {
	return rs.backend.DeleteApproval(id)
}

// CleanupExpired purges stale requests regardless of status: a resolved
// request nobody consumed (direct agent checks) must not persist past its
// deadline either. Returns how many were removed.
func (rs *Requests) CleanupExpired() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := rs.now().UTC()
	removed := 0
	for _, status := range []model.ApprovalStatus{model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected} {
		reqs, err := rs.backend.ListApprovals(status)
		if err != nil {
			continue
		}
		for _, r := range reqs {
			if r.Expired(now) {
				if err := rs.backend.DeleteApproval(r.ID); err == nil {
					removed++
				}
			}
		}
	}
	return removed
}
