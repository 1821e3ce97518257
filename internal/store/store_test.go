package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/model"
)

// repoUnderTest runs the same assertions against both Repository
// implementations.
func repoUnderTest(t *testing.T, name string) Repository {
	t.Helper()
	switch name {
	case "memory":
		return NewMemory()
	case "sqlite":
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "steward.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	default:
		t.Fatalf("unknown repo %q", name)
		return nil
	}
}

func forEachRepo(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			fn(t, repoUnderTest(t, name))
		})
	}
}

func TestTaskRoundTrip(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		task := model.Task{
			ID:              "t1",
			Title:           "migrate users table",
			Priority:        80,
			Dependencies:    []string{"t0"},
			Parallelizable:  true,
			Status:          model.TaskInProgress,
			ActionType:      "migrate_schema",
			TargetResources: []string{"db/users"},
			MaxRetries:      3,
			CreatedAt:       started.Add(-time.Hour),
			StartedAt:       &started,
			Outputs:         map[string]string{"migration": "0042"},
		}
		if err := repo.UpsertTask(task); err != nil {
			t.Fatal(err)
		}

		got, err := repo.GetTask("t1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Title != task.Title || got.Status != task.Status || got.Priority != task.Priority {
			t.Errorf("round trip mutated the task: %+v", got)
		}
		if got.StartedAt == nil || !got.StartedAt.Equal(started) {
			t.Errorf("started_at lost: %v", got.StartedAt)
		}
		if got.Outputs["migration"] != "0042" {
			t.Errorf("outputs lost: %v", got.Outputs)
		}

		// Upsert replaces.
		task.Status = model.TaskCompleted
		if err := repo.UpsertTask(task); err != nil {
			t.Fatal(err)
		}
		got, _ = repo.GetTask("t1")
		if got.Status != model.TaskCompleted {
			t.Errorf("upsert should replace, got status %s", got.Status)
		}

		if _, err := repo.GetTask("absent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestApprovalListByStatus(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for i, status := range []model.ApprovalStatus{
			model.ApprovalPending, model.ApprovalPending, model.ApprovalApproved,
		} {
			r := model.ApprovalRequest{
				ID:         model.NewID("ap"),
				ActionType: "deploy_prod",
				Status:     status,
				CreatedAt:  now.Add(time.Duration(i) * time.Minute),
				ExpiresAt:  now.Add(24 * time.Hour),
			}
			if err := repo.UpsertApproval(r); err != nil {
				t.Fatal(err)
			}
		}

		pending, err := repo.ListApprovals(model.ApprovalPending)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 2 {
			t.Fatalf("expected 2 pending, got %d", len(pending))
		}
		if pending[0].CreatedAt.After(pending[1].CreatedAt) {
			t.Error("approvals should list oldest first")
		}

		if err := repo.DeleteApproval(pending[0].ID); err != nil {
			t.Fatal(err)
		}
		pending, _ = repo.ListApprovals(model.ApprovalPending)
		if len(pending) != 1 {
			t.Errorf("expected 1 pending after delete, got %d", len(pending))
		}
	})
}

func TestAuditAppendAndFilter(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		entries := []audit.Entry{
			{ID: "ae-1", Timestamp: "2026-03-01T10:00:00.000Z", Actor: "a1", Org: "acme", ActionType: "read_data", Decision: "AUTO", PrevHash: audit.GenesisHash},
			{ID: "ae-2", Timestamp: "2026-03-01T10:01:00.000Z", Actor: "a1", Org: "acme", ActionType: "deploy_prod", Decision: "BLOCKED", PrevHash: "sha256:aa"},
			{ID: "ae-3", Timestamp: "2026-03-01T10:02:00.000Z", Actor: "a2", Org: "acme", ActionType: "deploy_prod", Decision: "AUTO", PrevHash: "sha256:bb"},
		}
		for _, e := range entries {
			if err := repo.AppendAudit(e); err != nil {
				t.Fatal(err)
			}
		}

		all, err := repo.ListAudit(audit.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(all))
		}
		if all[0].ID != "ae-1" || all[2].ID != "ae-3" {
			t.Error("audit entries must come back in append order")
		}

		deploys, _ := repo.ListAudit(audit.Filter{ActionType: "deploy_prod"})
		if len(deploys) != 2 {
			t.Errorf("expected 2 deploy entries, got %d", len(deploys))
		}
		blocked, _ := repo.ListAudit(audit.Filter{Actor: "a1", Decision: "BLOCKED"})
		if len(blocked) != 1 || blocked[0].ID != "ae-2" {
			t.Errorf("unexpected filtered result: %+v", blocked)
		}
	})
}

func TestCheckpointListNewestIterationFirst(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for _, iter := range []int{1, 3, 2} {
			c := model.Checkpoint{
				ID:        model.NewID("cp"),
				ProjectID: "p1",
				Kind:      model.CheckpointAutomatic,
				Iteration: iter,
				Valid:     true,
				CreatedAt: now,
				ExpiresAt: now.Add(model.DefaultCheckpointTTL),
			}
			if err := repo.UpsertCheckpoint(c); err != nil {
				t.Fatal(err)
			}
		}
		// A different project must not leak into the listing.
		other := model.Checkpoint{ID: model.NewID("cp"), ProjectID: "p2", Iteration: 9, Valid: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
		if err := repo.UpsertCheckpoint(other); err != nil {
			t.Fatal(err)
		}

		list, err := repo.ListCheckpoints("p1")
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 checkpoints, got %d", len(list))
		}
		if list[0].Iteration != 3 || list[2].Iteration != 1 {
			t.Errorf("expected iteration-descending order, got %d,%d,%d",
				list[0].Iteration, list[1].Iteration, list[2].Iteration)
		}

		if err := repo.DeleteCheckpoint(list[2].ID); err != nil {
			t.Fatal(err)
		}
		list, _ = repo.ListCheckpoints("p1")
		if len(list) != 2 {
			t.Errorf("expected 2 after delete, got %d", len(list))
		}
	})
}

func TestGateListPriorityOrder(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		gates := []model.HumanCheckpointGate{
			{ID: "g-low", Type: model.GateMilestoneReview, Status: model.GatePending, Priority: 10, CreatedAt: now},
			{ID: "g-high", Type: model.GateTaskFailureEscalation, Status: model.GatePending, Priority: 90, CreatedAt: now},
			{ID: "g-done", Type: model.GateCustom, Status: model.GateApproved, Priority: 50, CreatedAt: now},
		}
		for _, g := range gates {
			if err := repo.UpsertGate(g); err != nil {
				t.Fatal(err)
			}
		}

		pending, err := repo.ListGates(model.GatePending)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 2 {
			t.Fatalf("expected 2 pending gates, got %d", len(pending))
		}
		if pending[0].ID != "g-high" {
			t.Errorf("highest priority gate should list first, got %s", pending[0].ID)
		}

		all, _ := repo.ListGates("")
		if len(all) != 3 {
			t.Errorf("empty status should list all gates, got %d", len(all))
		}
	})
}

func TestRollbackLedger(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		records := []model.RollbackRecord{
			{ID: "rb-1", ActionID: "ae-1", Strategy: "git_revert", Success: true, Timestamp: "2026-03-01T10:00:00.000Z"},
			{ID: "rb-2", ActionID: "ae-2", Strategy: "config_restore", Refused: true, Timestamp: "2026-03-01T10:01:00.000Z"},
			{ID: "rb-3", ActionID: "ae-1", Strategy: "git_revert", Success: false, Timestamp: "2026-03-01T10:02:00.000Z"},
		}
		for _, r := range records {
			if err := repo.AppendRollback(r); err != nil {
				t.Fatal(err)
			}
		}

		forAction, err := repo.ListRollbacks("ae-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(forAction) != 2 {
			t.Fatalf("expected 2 records for ae-1, got %d", len(forAction))
		}
		if forAction[0].ID != "rb-1" {
			t.Error("rollback records must come back in append order")
		}

		all, _ := repo.ListRollbacks("")
		if len(all) != 3 {
			t.Errorf("expected 3 records total, got %d", len(all))
		}
	})
}
