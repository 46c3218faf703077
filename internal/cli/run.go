package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hollowvale/skillharness/internal/pipeline"
	"github.com/hollowvale/skillharness/internal/sandbox"
	"github.com/hollowvale/skillharness/internal/task"
)

var (
	runSuite            string
	runTaskID           string
	runSkill            string
	runTrials           int
	runConcurrency      int
	runMode             string
	runJSON             bool
	runUpdateBaseline   bool
	runBaselineReason   string
	runAllowUnsandboxed bool
	runOutputDir        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a suite of tasks and compare against the baseline",
	Long: `Runs the selected tasks under the bounded worker pool, records every
trial, compares aggregated pass rates to the suite baseline, and exits with:

  0  no regressions
  1  at least one blocking regression
  2  infrastructure failure
  3  configuration error

Select tasks with --suite, --task, or --skill; with none of them the whole
corpus runs.

Examples:
  skillharness run --suite smoke
  skillharness run --task parser-roundtrip --trials 5
  skillharness run --suite nightly --update-baseline --reason "model refresh"
  skillharness run --mode container`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := effectiveMode(runMode, cfg.Docker.Image)
		if err != nil {
			return err
		}

		if runConcurrency > 0 {
			cfg.Harness.Concurrency = runConcurrency
		}
		if runTrials > 0 {
			cfg.Harness.DefaultTrials = runTrials
		}
		if runOutputDir != "" {
			cfg.Harness.ResultsDir = runOutputDir
		}

		format := "table"
		if runJSON {
			format = "json"
		}

		opts := pipeline.Options{
			Selection: task.Selection{
				TaskID: runTaskID,
				Skill:  runSkill,
				Suite:  runSuite,
			},
			Mode:             mode,
			AllowUnsandboxed: runAllowUnsandboxed,
			UpdateBaseline:   runUpdateBaseline,
			BaselineReason:   runBaselineReason,
			ReportFormat:     format,
			HarnessVersion:   Version,
			Out:              os.Stdout,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		code := pipeline.New(cfg, opts, logger).Run(ctx)
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

// effectiveMode picks the sandbox mode. An explicit --mode always wins;
// without one, a configured isolation image upgrades the run to container
// mode, and an unconfigured one keeps it local.
func effectiveMode(flag, configuredImage string) (sandbox.Mode, error) {
	mode, err := sandbox.ParseMode(flag)
	if err != nil {
		return "", err
	}
	if flag == "" && configuredImage != "" {
		return sandbox.ModeContainer, nil
	}
	return mode, nil
}

func init() {
	runCmd.Flags().StringVar(&runSuite, "suite", "", "named suite to run")
	runCmd.Flags().StringVar(&runTaskID, "task", "", "run a single task by id")
	runCmd.Flags().StringVar(&runSkill, "skill", "", "run all tasks for a skill")
	runCmd.Flags().IntVar(&runTrials, "trials", 0, "override default trial count")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max tasks running in parallel")
	runCmd.Flags().StringVar(&runMode, "mode", "", "sandbox mode: local or container")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "emit the report as JSON")
	runCmd.Flags().BoolVar(&runUpdateBaseline, "update-baseline", false, "replace the suite baseline from this run")
	runCmd.Flags().StringVar(&runBaselineReason, "reason", "", "reason for the baseline update")
	runCmd.Flags().BoolVar(&runAllowUnsandboxed, "allow-unsandboxed", false, "consent to running graders without container isolation")
	runCmd.Flags().StringVar(&runOutputDir, "output", "", "results directory override")
}
