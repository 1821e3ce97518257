package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	approveBy      string
	approveComment string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&approveBy, "by", "", "Who is deciding (required)")
		c.Flags().StringVar(&approveComment, "comment", "", "Optional decision comment")
		_ = c.MarkFlagRequired("by")
	}
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending approval request",
	Long:  "Marks the request approved. A running orchestrator picks the decision up\nand executes the suspended task.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a pending approval request",
	Long:  "Marks the request rejected. The suspended task fails without retry.",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func runApprove(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if !e.gate.Requests().Approve(args[0], approveBy, approveComment) {
		return fmt.Errorf("request %s is not pending (unknown, expired, or already resolved)", args[0])
	}
	fmt.Printf("approved %s\n", args[0])
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if !e.gate.Requests().Reject(args[0], approveBy, approveComment) {
		return fmt.Errorf("request %s is not pending (unknown, expired, or already resolved)", args[0])
	}
	fmt.Printf("rejected %s\n", args[0])
	return nil
}
