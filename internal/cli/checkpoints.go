package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/steward/internal/checkpoint"
)

var (
	checkpointProject string
	invalidateReason  string
)

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsShowCmd)
	checkpointsCmd.AddCommand(checkpointsInvalidateCmd)
	checkpointsCmd.AddCommand(checkpointsGCCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointProject, "project", "", "Project ID")
	checkpointsInvalidateCmd.Flags().StringVar(&invalidateReason, "reason", "", "Why the checkpoint is unusable (required)")
	_ = checkpointsInvalidateCmd.MarkFlagRequired("reason")
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Checkpoint operations",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints for a project, newest first",
	RunE:  runCheckpointsList,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <checkpoint-id>",
	Short: "Print one checkpoint as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsShow,
}

var checkpointsInvalidateCmd = &cobra.Command{
	Use:   "invalidate <checkpoint-id>",
	Short: "Mark a checkpoint unusable for restoration",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsInvalidate,
}

var checkpointsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove expired checkpoints",
	RunE:  runCheckpointsGC,
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	cps := checkpoint.New(e.repo, nil)
	list, err := cps.List(checkpointProject)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No checkpoints.")
		return nil
	}

	fmt.Printf("%-18s %5s %-16s %-7s %s\n", "ID", "ITER", "KIND", "VALID", "CREATED")
	for _, c := range list {
		fmt.Printf("%-18s %5d %-16s %-7t %s\n",
			c.ID, c.Iteration, c.Kind, c.Valid, c.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runCheckpointsShow(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.repo.GetCheckpoint(args[0])
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", args[0], err)
	}
	out, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runCheckpointsInvalidate(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	cps := checkpoint.New(e.repo, nil)
	if err := cps.Invalidate(args[0], invalidateReason); err != nil {
		return err
	}
	fmt.Printf("invalidated %s\n", args[0])
	return nil
}

func runCheckpointsGC(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	cps := checkpoint.New(e.repo, nil)
	n, err := cps.GC(checkpointProject)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired checkpoints\n", n)
	return nil
}
