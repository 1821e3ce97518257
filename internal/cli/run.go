package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/steward/internal/checkpoint"
	"github.com/ppiankov/steward/internal/events"
	"github.com/ppiankov/steward/internal/model"
	"github.com/ppiankov/steward/internal/orchestrator"
	"github.com/ppiankov/steward/internal/summarize"
	"github.com/ppiankov/steward/internal/watch"
)

var (
	runResume       bool
	runCheckpointID string
	runSimulate     bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Restore the most recent valid checkpoint before running")
	runCmd.Flags().StringVar(&runCheckpointID, "checkpoint", "", "Restore a specific checkpoint by ID")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "Use the simulated executor instead of an external one")
}

// runConfig is the YAML run definition.
type runConfig struct {
	Project string `yaml:"project"`
	Actor   string `yaml:"actor"`
	Org     string `yaml:"org"`

	Mode            string `yaml:"mode"`
	MaxParallel     int    `yaml:"max_parallel"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	ExecTimeout     string `yaml:"exec_timeout"`
	RecentIncidents bool   `yaml:"recent_incidents"`

	DecisionsDir string                 `yaml:"decisions_dir"`
	Webhooks     []events.WebhookConfig `yaml:"webhooks"`

	Summarizer struct {
		APIURL string `yaml:"api_url"`
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"summarizer"`

	Tasks []taskConfig `yaml:"tasks"`
}

type taskConfig struct {
	ID              string   `yaml:"id"`
	Title           string   `yaml:"title"`
	Description     string   `yaml:"description"`
	Priority        int      `yaml:"priority"`
	Dependencies    []string `yaml:"dependencies"`
	Parallelizable  bool     `yaml:"parallelizable"`
	ActionType      string   `yaml:"action_type"`
	TargetResources []string `yaml:"target_resources"`
	Scope           string   `yaml:"scope"`
	MaxRetries      int      `yaml:"max_retries"`
}

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run a governed orchestration over the configured task graph",
	Long: "Loads the task graph from the run config, evaluates every task against\n" +
		"policy before execution, and drives the iteration loop until the project\n" +
		"completes. SIGINT checkpoints state and stops cleanly; --resume picks the\n" +
		"run back up.",
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read run config: %w", err)
	}
	var cfg runConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse run config: %w", err)
	}
	if cfg.Project == "" {
		return fmt.Errorf("run config requires a project")
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()

	if err := seedTasks(e, cfg.Tasks); err != nil {
		return err
	}

	var summarizer summarize.Summarizer
	if cfg.Summarizer.APIURL != "" {
		summarizer = summarize.NewLLM(summarize.Config{
			APIURL: cfg.Summarizer.APIURL,
			APIKey: cfg.Summarizer.APIKey,
			Model:  cfg.Summarizer.Model,
		})
	}
	checkpoints := checkpoint.New(e.repo, summarizer)

	execTimeout := time.Duration(0)
	if cfg.ExecTimeout != "" {
		execTimeout, err = time.ParseDuration(cfg.ExecTimeout)
		if err != nil {
			return fmt.Errorf("parse exec_timeout: %w", err)
		}
	}

	var exec orchestrator.Executor
	if runSimulate {
		exec = &orchestrator.Simulated{}
	} else {
		return fmt.Errorf("no external executor configured; use --simulate")
	}

	orch := orchestrator.New(orchestrator.Config{
		ProjectID:       cfg.Project,
		Actor:           cfg.Actor,
		Org:             cfg.Org,
		Mode:            model.DispatchMode(cfg.Mode),
		MaxParallel:     cfg.MaxParallel,
		CheckpointEvery: cfg.CheckpointEvery,
		ExecTimeout:     execTimeout,
		RecentIncidents: cfg.RecentIncidents,
	}, e.repo, e.gate, checkpoints, e.trail, exec, events.NewDispatcher(cfg.Webhooks))

	if runResume || runCheckpointID != "" {
		restored, err := orch.RestoreCheckpoint(runCheckpointID)
		if err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
		if restored {
			fmt.Fprintln(os.Stderr, "resumed from checkpoint")
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.DecisionsDir != "" {
		applier := watch.NewApplier(e.gate.Requests(), e.repo)
		handler := func(path string) {
			if err := applier.ApplyFile(path); err != nil {
				fmt.Fprintf(os.Stderr, "decision %s: %v\n", path, err)
			}
		}
		if err := watch.ScanExisting(cfg.DecisionsDir, handler); err != nil {
			return fmt.Errorf("scan decisions dir: %w", err)
		}
		go func() {
			if err := watch.NewWatcher(cfg.DecisionsDir, handler).Run(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "decision watcher: %v, falling back to polling\n", err)
				_ = watch.NewPollWatcher(cfg.DecisionsDir, handler, 0).Run(ctx)
			}
		}()
	}

	runErr := orch.Run(ctx)

	snap := orch.Snapshot()
	fmt.Printf("run %s: %s after %d iterations\n", snap.RunID, snap.State, snap.Iteration)
	if len(snap.Conflicts) > 0 {
		fmt.Printf("%d conflicts resolved\n", len(snap.Conflicts))
	}
	return runErr
}

// seedTasks loads the configured tasks into the repository. Tasks already
// present keep their state so a resumed run does not restart finished work.
func seedTasks(e *env, tasks []taskConfig) error {
	now := time.Now().UTC()
	for _, tc := range tasks {
		if tc.ID == "" || tc.ActionType == "" {
			return fmt.Errorf("every task requires id and action_type")
		}
		if _, err := e.repo.GetTask(tc.ID); err == nil {
			continue
		}
		t := model.Task{
			ID:              tc.ID,
			Title:           tc.Title,
			Description:     tc.Description,
			Priority:        tc.Priority,
			Dependencies:    tc.Dependencies,
			Parallelizable:  tc.Parallelizable,
			Status:          model.TaskPending,
			ActionType:      tc.ActionType,
			TargetResources: tc.TargetResources,
			Scope:           tc.Scope,
			MaxRetries:      tc.MaxRetries,
			CreatedAt:       now,
		}
		if err := e.repo.UpsertTask(t); err != nil {
			return fmt.Errorf("seed task %s: %w", tc.ID, err)
		}
	}
	return nil
}
