package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollowvale/skillharness/internal/executor"
	"github.com/hollowvale/skillharness/internal/result"
	"github.com/hollowvale/skillharness/internal/sandbox"
	"github.com/hollowvale/skillharness/internal/task"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Re-grade one task whenever its fixture changes",
	Long: `Runs a task once, then watches its fixture directory and re-runs the
grading loop after each debounced burst of edits. Useful while developing a
fixture or its graders; results print per run and are not recorded in the
ledger.

Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := newLoader()
		tasks, _, _, err := loader.Resolve(task.Selection{TaskID: args[0]})
		if err != nil {
			return err
		}
		valid, issues := loader.ValidateAll(tasks, task.Defaults{})
		if len(valid) == 0 {
			for _, issue := range issues {
				fmt.Fprintf(os.Stderr, "invalid: %s\n", issue)
			}
			return fmt.Errorf("task %s did not validate", args[0])
		}
		t := valid[0]

		fixtureDir, err := task.ResolveFixture(cfg.Corpus.FixturesDir, t.Fixture)
		if err != nil {
			return err
		}

		manager := sandbox.NewManager(cfg, logger)
		defer func() { _ = manager.Close() }()
		runner := executor.New(cfg, loader, manager, sandbox.ModeLocal, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		iteration := 0
		grade := func() {
			iteration++
			runID := fmt.Sprintf("watch-%d", os.Getpid())
			runDir := filepath.Join(cfg.Harness.ResultsDir, "watch", fmt.Sprintf("%s-%d", t.ID, iteration))
			if err := os.MkdirAll(filepath.Join(runDir, "tasks"), 0o755); err != nil {
				logger.Error("creating watch run dir", "error", err)
				return
			}
			defer func() { _ = os.RemoveAll(runDir) }()
			defer manager.DestroyAll(runID)

			if err := runner.RunTask(ctx, runID, runDir, t); err != nil {
				logger.Error("grading failed", "error", err)
				return
			}
			trials, err := result.ReadTrials(result.TaskResultsPath(runDir, t.ID))
			if err != nil {
				logger.Error("reading results", "error", err)
				return
			}
			printWatchOutcome(t.ID, iteration, trials)
		}

		grade()
		fmt.Printf("watching %s (Ctrl-C to stop)\n", fixtureDir)

		w := executor.NewFixtureWatcher(fixtureDir, watchDebounce, grade, logger)
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func printWatchOutcome(taskID string, iteration int, trials []result.TrialResult) {
	passed := 0
	for i := range trials {
		if trials[i].Passed() {
			passed++
		}
	}
	verdict := "FAIL"
	if passed == len(trials) && len(trials) > 0 {
		verdict = "PASS"
	}
	fmt.Printf("[%d] %s: %s (%d/%d trials passed)\n", iteration, taskID, verdict, passed, len(trials))
	for i := range trials {
		for _, g := range trials[i].Graders {
			if !g.Pass && g.Details != "" {
				fmt.Printf("    %s: %s\n", g.Name, g.Details)
			}
		}
	}
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "delay after the last change before re-grading")
}
