package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/steward/internal/gate"
	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/store"
)

func newApplier(t *testing.T) (*Applier, *gate.Requests, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	requests := gate.NewRequests(repo)
	return NewApplier(requests, repo), requests, repo
}

func pendingRequest(t *testing.T, rs *gate.Requests) model.ApprovalRequest {
	t.Helper()
	r, err := rs.Create(model.ActionContext{
		ActionType: "deploy_prod", Actor: "agent", Org: "acme",
	}, 0.8, []string{"risk: HIGH"}, "ship release")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func writeDecision(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyFileApprovesRequest(t *testing.T) {
	a, rs, _ := newApplier(t)
	r := pendingRequest(t, rs)

	path := writeDecision(t, t.TempDir(), "d.json",
		`{"kind":"approval","id":"`+r.ID+`","approve":true,"by":"alice","comment":"lgtm"}`)
	if err := a.ApplyFile(path); err != nil {
		t.Fatal(err)
	}

	got, err := rs.Get(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ApprovalApproved || got.Approver != "alice" || got.Comment != "lgtm" {
		t.Errorf("approval not applied: %+v", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("decision file must be removed after apply")
	}
}

func TestApplyRejectsRequest(t *testing.T) {
	a, rs, _ := newApplier(t)
	r := pendingRequest(t, rs)

	err := a.Apply(Decision{Kind: KindApproval, ID: r.ID, Approve: false, By: "bob", Comment: "too risky"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := rs.Get(r.ID)
	if got.Status != model.ApprovalRejected {
		t.Errorf("expected rejected, got %s", got.Status)
	}

	// A second decision on the same request is an error: no longer pending.
	if err := a.Apply(Decision{Kind: KindApproval, ID: r.ID, Approve: true, By: "alice"}); err == nil {
		t.Error("resolving a non-pending approval must fail")
	}
}

func TestApplyResolvesGate(t *testing.T) {
	a, _, repo := newApplier(t)
	g := model.HumanCheckpointGate{
		ID:     "g1",
		Type:   model.GateTaskFailureEscalation,
		Status: model.GatePending,
		Options: []model.GateOption{
			{ID: "retry"}, {ID: "skip"}, {ID: "abort"},
		},
		BlocksProgress: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.UpsertGate(g); err != nil {
		t.Fatal(err)
	}

	err := a.Apply(Decision{Kind: KindGate, ID: "g1", Approve: true, Option: "retry", By: "alice", Comment: "flaky"})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetGate("g1")
	if got.Status != model.GateApproved || got.ChosenOption != "retry" || got.DecidedBy != "alice" {
		t.Errorf("gate not resolved: %+v", got)
	}
	if got.ResolvedAt == nil {
		t.Error("resolution timestamp missing")
	}
	if got.Applied {
		t.Error("a freshly resolved gate must not be marked applied")
	}

	if err := a.Apply(Decision{Kind: KindGate, ID: "g1", Approve: false, By: "bob"}); err == nil {
		t.Error("re-deciding a resolved gate must fail")
	}
}

func TestApplyFileRemovesMalformedFile(t *testing.T) {
	a, _, _ := newApplier(t)

	path := writeDecision(t, t.TempDir(), "bad.json", `{not json`)
	if err := a.ApplyFile(path); err == nil {
		t.Fatal("malformed file should error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("malformed file must still be removed")
	}
}

func TestApplyValidation(t *testing.T) {
	a, rs, _ := newApplier(t)
	r := pendingRequest(t, rs)

	cases := []Decision{
		{Kind: KindApproval, ID: "", Approve: true, By: "alice"},
		{Kind: KindApproval, ID: r.ID, Approve: true, By: ""},
		{Kind: "escalation", ID: r.ID, Approve: true, By: "alice"},
		{Kind: KindApproval, ID: "ap-missing", Approve: true, By: "alice"},
		{Kind: KindGate, ID: "g-missing", Approve: true, By: "alice"},
	}
	for i, d := range cases {
		if err := a.Apply(d); err == nil {
			t.Errorf("case %d should have failed: %+v", i, d)
		}
	}

	// The valid request is untouched by the failed attempts.
	got, _ := rs.Get(r.ID)
	if got.Status != model.ApprovalPending {
		t.Errorf("request should still be pending, got %s", got.Status)
	}
}
