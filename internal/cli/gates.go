package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/watch"
)

var (
	gatesStatus   string
	decideApprove bool
	decideOption  string
	decideBy      string
	decideComment string
)

func init() {
	rootCmd.AddCommand(gatesCmd)
	gatesCmd.AddCommand(gatesListCmd)
	gatesCmd.AddCommand(gatesDecideCmd)

	gatesListCmd.Flags().StringVar(&gatesStatus, "status", "pending", "Filter by status (pending/approved/rejected/deferred, empty for all)")

	gatesDecideCmd.Flags().BoolVar(&decideApprove, "approve", true, "Approve (true) or reject (false) the gate")
	gatesDecideCmd.Flags().StringVar(&decideOption, "option", "", "Chosen option ID (e.g. retry, skip, abort)")
	gatesDecideCmd.Flags().StringVar(&decideBy, "by", "", "Who is deciding (required)")
	gatesDecideCmd.Flags().StringVar(&decideComment, "comment", "", "Optional decision reason")
	_ = gatesDecideCmd.MarkFlagRequired("by")
}

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Human checkpoint gate operations",
}

var gatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List human checkpoint gates",
	RunE:  runGatesList,
}

var gatesDecideCmd = &cobra.Command{
	Use:   "decide <gate-id>",
	Short: "Resolve a pending gate",
	Long:  "Approves or rejects the gate, optionally choosing one of its options.\nA blocking gate releases the orchestrator once decided.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGatesDecide,
}

func runGatesList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	gates, err := e.repo.ListGates(model.GateStatus(gatesStatus))
	if err != nil {
		return fmt.Errorf("list gates: %w", err)
	}
	if len(gates) == 0 {
		fmt.Println("No gates.")
		return nil
	}

	for _, g := range gates {
		blocking := ""
		if g.BlocksProgress {
			blocking = " [blocking]"
		}
		fmt.Printf("%s  %-25s %-10s%s\n", g.ID, g.Type, g.Status, blocking)
		fmt.Printf("    %s\n", g.Title)
		for _, opt := range g.Options {
			fmt.Printf("    - %s: %s", opt.ID, opt.Label)
			if opt.TradeOff != "" {
				fmt.Printf(" (%s)", opt.TradeOff)
			}
			fmt.Println()
		}
	}
	return nil
}

func runGatesDecide(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	applier := watch.NewApplier(e.gate.Requests(), e.repo)
	if err := applier.Apply(watch.Decision{
		Kind:    watch.KindGate,
		ID:      args[0],
		Approve: decideApprove,
		Option:  decideOption,
		By:      decideBy,
		Comment: decideComment,
	}); err != nil {
		return err
	}

	verb := "approved"
	if !decideApprove {
		verb = "rejected"
	}
	fmt.Printf("gate %s %s\n", args[0], verb)
	return nil
}
