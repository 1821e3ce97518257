package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/steward/internal/rollback"
)

var (
	rollbackBy     string
	rollbackReason string
)

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.AddCommand(rollbackCheckCmd)
	rollbackCmd.AddCommand(rollbackRunCmd)

	rollbackRunCmd.Flags().StringVar(&rollbackBy, "by", "", "Who is requesting the rollback (required)")
	rollbackRunCmd.Flags().StringVar(&rollbackReason, "reason", "", "Why the action is being rolled back (required)")
	_ = rollbackRunCmd.MarkFlagRequired("by")
	_ = rollbackRunCmd.MarkFlagRequired("reason")
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Compensating actions against the audit trail",
}

var rollbackCheckCmd = &cobra.Command{
	Use:   "check <action-id>",
	Short: "Check whether an executed action can be rolled back",
	Long:  "Reports eligibility without executing anything: the action must exist,\nbe rollback-available, inside its window, not already rolled back, and\ncovered by a strategy.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackCheck,
}

var rollbackRunCmd = &cobra.Command{
	Use:   "run <action-id>",
	Short: "Execute a compensating action",
	Long:  "Runs the first strategy that supports the recorded action. Every attempt,\nincluding refusals, lands in the rollback ledger and the audit trail.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollbackRun,
}

func runRollbackCheck(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctl := rollback.New(e.repo, e.trail, e.repo)
	ok, reason := ctl.CanRollback(args[0])
	if ok {
		fmt.Printf("action %s can be rolled back\n", args[0])
		return nil
	}
	fmt.Printf("action %s cannot be rolled back: %s\n", args[0], reason)
	return nil
}

func runRollbackRun(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctl := rollback.New(e.repo, e.trail, e.repo)
	out := ctl.Rollback(context.Background(), args[0], rollbackBy, rollbackReason)

	switch {
	case out.Success:
		fmt.Printf("rolled back %s via %s: %s\n", args[0], out.Strategy, out.Message)
		return nil
	case out.Refused:
		fmt.Printf("refused: %s\n", out.Message)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "rollback failed: %s\n", out.Message)
		os.Exit(1)
		return nil
	}
}
