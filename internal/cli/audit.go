package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/steward/internal/audit"
)

var (
	auditTailN      int
	auditActor      string
	auditActionType string
	auditDecision   string
	insightsWindow  string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditInsightsCmd)

	auditTailCmd.Flags().IntVarP(&auditTailN, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor")
	auditTailCmd.Flags().StringVar(&auditActionType, "action", "", "Filter by action type")
	auditTailCmd.Flags().StringVar(&auditDecision, "decision", "", "Filter by decision")

	auditInsightsCmd.Flags().StringVar(&insightsWindow, "window", "168h", "Analysis window (duration)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
	Long:  "Commands for inspecting and verifying the hash-chained audit trail.",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit entries",
	RunE:  runAuditTail,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity of the audit trail",
	Long:  "Walks the trail and validates that every entry's prev_hash matches the\nSHA-256 of the previous entry. Exits 0 if intact, 1 if tampered.",
	RunE:  runAuditVerify,
}

var auditInsightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Summarize decision patterns over a time window",
	RunE:  runAuditInsights,
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := audit.Query(e.repo, audit.Filter{
		Actor:      auditActor,
		ActionType: auditActionType,
		Decision:   auditDecision,
		Limit:      auditTailN,
	})
	if err != nil {
		return fmt.Errorf("query audit trail: %w", err)
	}

	for _, entry := range entries {
		out, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.repo.ListAudit(audit.Filter{})
	if err != nil {
		return fmt.Errorf("load audit trail: %w", err)
	}

	result := audit.VerifyChain(entries)
	if result.Valid {
		fmt.Printf("OK: %d entries verified\n", result.Entries)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at entry %d: %s\n", result.ErrorEntry, result.Error)
	os.Exit(1)
	return nil
}

func runAuditInsights(cmd *cobra.Command, args []string) error {
	window, err := time.ParseDuration(insightsWindow)
	if err != nil {
		return fmt.Errorf("parse window: %w", err)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.repo.ListAudit(audit.Filter{})
	if err != nil {
		return fmt.Errorf("load audit trail: %w", err)
	}

	ins := audit.ComputeInsights(entries, window, time.Now().UTC())
	fmt.Printf("window since %s: %d entries, avg risk %.2f, %d high-risk\n",
		ins.WindowStart, ins.Total, ins.AvgRisk, ins.HighRisk)
	for decision, n := range ins.ByDecision {
		fmt.Printf("  %-20s %d\n", decision, n)
	}
	if len(ins.TopTypes) > 0 {
		fmt.Println("riskiest action types:")
		for _, t := range ins.TopTypes {
			fmt.Printf("  %-25s count %-4d avg risk %.2f\n", t.ActionType, t.Count, t.AvgRisk)
		}
	}
	return nil
}
