package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	doc        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS approvals (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	doc         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_log (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	org         TEXT NOT NULL,
	actor       TEXT NOT NULL,
	action_type TEXT NOT NULL,
	decision    TEXT NOT NULL,
	ts          TEXT NOT NULL,
	doc         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	iteration  INTEGER NOT NULL,
	valid      INTEGER NOT NULL,
	doc        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS gates (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	priority   INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	doc        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rollbacks (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id TEXT NOT NULL,
	doc       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_log(org);
CREATE INDEX IF NOT EXISTS idx_approvals_fp ON approvals(fingerprint);
CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id, iteration);
`

// SQLite is a Repository backed by a single SQLite file. Entities persist as
// JSON documents with indexed columns for the filterable fields, preserving
// round-trip fidelity without a column per field.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) UpsertTask(t model.Task) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO tasks(id,status,created_at,doc) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, doc=excluded.doc`,
		t.ID, string(t.Status), t.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), string(doc))
	return err
}

func (s *SQLite) GetTask(id string) (model.Task, error) {
	var t model.Task
	err := scanDoc(s.db.QueryRow(`SELECT doc FROM tasks WHERE id=?`, id), &t)
	return t, err
}

func (s *SQLite) ListTasks() ([]model.Task, error) {
	return listDocs[model.Task](s.db, `SELECT doc FROM tasks ORDER BY created_at, id`)
}

func (s *SQLite) UpsertApproval(r model.ApprovalRequest) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO approvals(id,status,fingerprint,created_at,doc) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, doc=excluded.doc`,
		r.ID, string(r.Status), r.Fingerprint, r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), string(doc))
	return err
}

func (s *SQLite) GetApproval(id string) (model.ApprovalRequest, error) {
	var r model.ApprovalRequest
	err := scanDoc(s.db.QueryRow(`SELECT doc FROM approvals WHERE id=?`, id), &r)
	return r, err
}

func (s *SQLite) ListApprovals(status model.ApprovalStatus) ([]model.ApprovalRequest, error) {
	if status == "" {
		return listDocs[model.ApprovalRequest](s.db, `SELECT doc FROM approvals ORDER BY created_at, id`)
	}
	return listDocs[model.ApprovalRequest](s.db, `SELECT doc FROM approvals WHERE status=? ORDER BY created_at, id`, string(status))
}

func (s *SQLite) DeleteApproval(id string) error {
	_, err := s.db.Exec(`DELETE FROM approvals WHERE id=?`, id)
	return err
}

func (s *SQLite) AppendAudit(e audit.Entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO audit_log(id,org,actor,action_type,decision,ts,doc) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.Org, e.Actor, e.ActionType, e.Decision, e.Timestamp, string(doc))
	return err
}

func (s *SQLite) ListAudit(f audit.Filter) ([]audit.Entry, error) {
	// Indexed narrowing on org only; the rest filters in memory, matching
	// the Memory implementation exactly.
	query := `SELECT doc FROM audit_log ORDER BY seq`
	var args []any
	if f.Org != "" {
		query = `SELECT doc FROM audit_log WHERE org=? ORDER BY seq`
		args = append(args, f.Org)
	}
	entries, err := listDocs[audit.Entry](s.db, query, args...)
	if err != nil {
		return nil, err
	}
	var out []audit.Entry
	for _, e := range entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *SQLite) UpsertCheckpoint(c model.Checkpoint) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	valid := 0
	if c.Valid {
		valid = 1
	}
	_, err = s.db.Exec(
		`INSERT INTO checkpoints(id,project_id,iteration,valid,doc) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET valid=excluded.valid, doc=excluded.doc`,
		c.ID, c.ProjectID, c.Iteration, valid, string(doc))
	return err
}

func (s *SQLite) GetCheckpoint(id string) (model.Checkpoint, error) {
	var c model.Checkpoint
	err := scanDoc(s.db.QueryRow(`SELECT doc FROM checkpoints WHERE id=?`, id), &c)
	return c, err
}

func (s *SQLite) ListCheckpoints(projectID string) ([]model.Checkpoint, error) {
	if projectID == "" {
		return listDocs[model.Checkpoint](s.db, `SELECT doc FROM checkpoints ORDER BY iteration DESC, id`)
	}
	return listDocs[model.Checkpoint](s.db, `SELECT doc FROM checkpoints WHERE project_id=? ORDER BY iteration DESC, id`, projectID)
}

func (s *SQLite) DeleteCheckpoint(id string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE id=?`, id)
	return err
}

func (s *SQLite) UpsertGate(g model.HumanCheckpointGate) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO gates(id,status,priority,created_at,doc) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, doc=excluded.doc`,
		g.ID, string(g.Status), g.Priority, g.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), string(doc))
	return err
}

func (s *SQLite) GetGate(id string) (model.HumanCheckpointGate, error) {
	var g model.HumanCheckpointGate
	err := scanDoc(s.db.QueryRow(`SELECT doc FROM gates WHERE id=?`, id), &g)
	return g, err
}

func (s *SQLite) ListGates(status model.GateStatus) ([]model.HumanCheckpointGate, error) {
	if status == "" {
		return listDocs[model.HumanCheckpointGate](s.db, `SELECT doc FROM gates ORDER BY priority DESC, created_at, id`)
	}
	return listDocs[model.HumanCheckpointGate](s.db, `SELECT doc FROM gates WHERE status=? ORDER BY priority DESC, created_at, id`, string(status))
}

func (s *SQLite) AppendRollback(r model.RollbackRecord) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO rollbacks(action_id,doc) VALUES(?,?)`, r.ActionID, string(doc))
	return err
}

func (s *SQLite) ListRollbacks(actionID string) ([]model.RollbackRecord, error) {
	if actionID == "" {
		return listDocs[model.RollbackRecord](s.db, `SELECT doc FROM rollbacks ORDER BY seq`)
	}
	return listDocs[model.RollbackRecord](s.db, `SELECT doc FROM rollbacks WHERE action_id=? ORDER BY seq`, actionID)
}

func scanDoc(row *sql.Row, dst any) error {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(doc), dst)
}

func listDocs[T any](db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
