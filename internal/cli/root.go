// Package cli wires the steward commands: run orchestration, resolve
// approvals and gates, inspect the audit trail, roll actions back, and
// manage checkpoints.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/steward/internal/audit"
	"github.com/ppiankov/steward/internal/gate"
	"github.com/ppiankov/steward/internal/policy"
	"github.com/ppiankov/steward/internal/store"
)

var (
	dbPath     string
	policyPath string
	actorsPath string
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Governed orchestration for autonomous agents",
	Long:  "Schedules dependent tasks, gates risky actions behind human approval, keeps a hash-chained audit trail, and checkpoints enough state to resume after a crash.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "steward.db", "Path to the SQLite state database")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "steward-policy.yaml", "Path to the autonomy policy file")
	rootCmd.PersistentFlags().StringVar(&actorsPath, "actors", "steward-actors.yaml", "Path to the actor role registry")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env bundles the shared state every command operates on: the repository,
// the resumed audit chain, and the governance gate.
type env struct {
	repo       *store.SQLite
	trail      *audit.Log
	policies   *policy.Store
	gate       *gate.Gate
	policyHash string
}

func openEnv() (*env, error) {
	repo, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	cfg, hash, err := policy.LoadConfigWithHash(policyPath)
	if err != nil {
		repo.Close()
		return nil, err
	}
	registry, err := policy.LoadRegistry(actorsPath)
	if err != nil {
		repo.Close()
		return nil, err
	}

	policies := policy.NewStore(registry)
	cfg.Apply(policies)

	tail, err := audit.RecoverTail(repo)
	if err != nil {
		repo.Close()
		return nil, err
	}
	trail := audit.NewWithTail(repo, tail)

	requests := gate.NewRequests(repo)
	g := gate.New(policies, requests, trail, nil)

	return &env{
		repo:       repo,
		trail:      trail,
		policies:   policies,
		gate:       g,
		policyHash: hash,
	}, nil
}

func (e *env) close() {
	_ = e.trail.Close()
	_ = e.repo.Close()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
