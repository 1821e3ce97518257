package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"

	_ "modernc.org/sqlite"
)

// Strategy is one way of undoing an applied action. Supports inspects the
// action type and the artifacts captured in its audit entry; Execute performs
// the compensating action and reports (success, message).
type Strategy interface {
	Name() string
	Supports(actionType string, artifacts map[string]string) bool
	Execute(ctx context.Context, actionID string, artifacts map[string]string) (bool, string)
}

// DefaultStrategies returns the reference strategies in registration order.
// The first supporting strategy wins.
func DefaultStrategies() []Strategy {
	return []Strategy{
		GitRevert{},
		ConfigRestore{},
		FeatureFlagRestore{},
		ReversibleMigration{},
	}
}

// GitRevert undoes a committed change by creating a revert commit on a new
// branch. Never rewrites history.
type GitRevert struct{}

func (GitRevert) Name() string { return "git_revert" }

func (GitRevert) Supports(actionType string, artifacts map[string]string) bool {
	return artifacts["commit"] != "" && artifacts["repo"] != ""
}

func (GitRevert) Execute(ctx context.Context, actionID string, artifacts map[string]string) (bool, string) {
	repo := artifacts["repo"]
	commit := artifacts["commit"]
	branch := "revert/" + actionID

	if out, err := git(ctx, repo, "checkout", "-b", branch); err != nil {
		return false, fmt.Sprintf("create branch %s: %v: %s", branch, err, out)
	}
	if out, err := git(ctx, repo, "revert", "--no-edit", commit); err != nil {
		return false, fmt.Sprintf("revert %s: %v: %s", commit, err, out)
	}
	return true, fmt.Sprintf("reverted %s on branch %s", commit, branch)
}

func git(ctx context.Context, repo string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repo}, args...)...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// ConfigRestore copies a captured backup over the live config file.
type ConfigRestore struct{}

func (ConfigRestore) Name() string { return "config_restore" }

func (ConfigRestore) Supports(actionType string, artifacts map[string]string) bool {
	return artifacts["config_path"] != "" && artifacts["backup_path"] != ""
}

func (ConfigRestore) Execute(ctx context.Context, actionID string, artifacts map[string]string) (bool, string) {
	backup, err := os.ReadFile(artifacts["backup_path"])
	if err != nil {
		return false, fmt.Sprintf("read backup: %v", err)
	}
	tmp := artifacts["config_path"] + ".tmp"
	if err := os.WriteFile(tmp, backup, 0o644); err != nil {
		return false, fmt.Sprintf("write restore: %v", err)
	}
	if err := os.Rename(tmp, artifacts["config_path"]); err != nil {
		return false, fmt.Sprintf("replace config: %v", err)
	}
	return true, fmt.Sprintf("restored %s from %s", artifacts["config_path"], artifacts["backup_path"])
}

// FeatureFlagRestore rewrites a flag file entry back to its captured previous
// state. The flag file is "flag=value" lines.
type FeatureFlagRestore struct{}

func (FeatureFlagRestore) Name() string { return "feature_flag_restore" }

func (FeatureFlagRestore) Supports(actionType string, artifacts map[string]string) bool {
	return artifacts["flag_file"] != "" && artifacts["flag"] != "" && artifacts["previous"] != ""
}

func (FeatureFlagRestore) Execute(ctx context.Context, actionID string, artifacts map[string]string) (bool, string) {
	path := artifacts["flag_file"]
	flag := artifacts["flag"]
	previous := artifacts["previous"]

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Sprintf("read flag file: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, flag+"=") {
			lines[i] = flag + "=" + previous
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, flag+"="+previous)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return false, fmt.Sprintf("write flag file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Sprintf("replace flag file: %v", err)
	}
	return true, fmt.Sprintf("restored %s=%s in %s", flag, previous, path)
}

// ReversibleMigration executes the captured down migration against the
// target database. Only migrations that recorded a down script qualify.
type ReversibleMigration struct{}

func (ReversibleMigration) Name() string { return "reversible_migration" }

func (ReversibleMigration) Supports(actionType string, artifacts map[string]string) bool {
	return artifacts["down_sql"] != "" && artifacts["db_path"] != ""
}

func (ReversibleMigration) Execute(ctx context.Context, actionID string, artifacts map[string]string) (bool, string) {
	db, err := sql.Open("sqlite", "file:"+artifacts["db_path"])
	if err != nil {
		return false, fmt.Sprintf("open database: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, artifacts["down_sql"]); err != nil {
		return false, fmt.Sprintf("execute down migration: %v", err)
	}
	return true, "down migration applied"
}
