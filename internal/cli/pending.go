package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approval requests",
	Long:  "Shows all live approval requests with risk, requester, and expiry.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	list, err := e.gate.Requests().Pending()
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	fmt.Printf("%-18s %-20s %-15s %6s  %s\n", "ID", "ACTION", "REQUESTER", "RISK", "EXPIRES")
	for _, a := range list {
		fmt.Printf("%-18s %-20s %-15s %6.2f  %s\n",
			a.ID,
			truncate(a.ActionType, 20),
			truncate(a.Requester, 15),
			a.RiskScore,
			a.ExpiresAt.Format("2006-01-02 15:04"),
		)
	}
	return nil
}
