package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollowvale/skillharness/internal/baseline"
	"github.com/hollowvale/skillharness/internal/result"
)

var (
	baselineSuite  string
	baselineReason string
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Inspect and maintain suite baselines",
}

var baselineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the recorded baseline for a suite",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := baseline.Load(cfg.Corpus.BaselineDir, baselineSuite)
		if err != nil {
			return err
		}
		if b == nil {
			fmt.Printf("no baseline recorded for suite %q\n", suiteOrDefault())
			return nil
		}

		fmt.Printf("suite: %s\n", b.Suite)
		if b.ModelVersion != "" {
			fmt.Printf("model version: %s\n", b.ModelVersion)
		}
		fmt.Printf("updated: %s\n", b.UpdatedAt.Format(time.RFC3339))
		fmt.Printf("reason: %s\n\n", b.Reason)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tPASS RATE\tMEAN SCORE\tTRIALS\tSTATUS")
		for _, id := range sortedEntryIDs(b) {
			e := b.Tasks[id]
			status := e.Status
			if status == "" {
				status = baseline.StatusActive
			}
			fmt.Fprintf(w, "%s\t%.0f%%\t%.1f\t%d\t%s\n", id, e.PassRate*100, e.MeanScore, e.Trials, status)
		}
		return w.Flush()
	},
}

var baselineRunDir string

var baselineUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Replace the suite baseline from a recorded run",
	Long: `Rebuilds the baseline from a run's recorded trials, wholesale: tasks
absent from the run drop out of the baseline. Defaults to the latest run;
point --run at a specific run directory to use an older one. Requires
--reason, like every baseline change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if baselineReason == "" {
			return errors.New("--reason is required")
		}

		runDir := baselineRunDir
		if runDir == "" {
			runDir = filepath.Join(cfg.Harness.ResultsDir, "latest")
		}
		run, err := result.ReadRun(runDir)
		if err != nil {
			return fmt.Errorf("no finalized run at %s: %w", runDir, err)
		}
		trials, err := result.ReadTrials(filepath.Join(runDir, "trials.jsonl"))
		if err != nil {
			return err
		}

		suite := baselineSuite
		if suite == "" {
			suite = run.Suite
		}
		prev, err := baseline.Load(cfg.Corpus.BaselineDir, suite)
		if err != nil {
			return err
		}

		aggs := baseline.AggregateTrials(trials)
		b := baseline.FromAggregates(suite, cfg.Compare.ModelVersion, baselineReason, run.RunID, aggs, prev, time.Now())
		if err := b.Save(cfg.Corpus.BaselineDir); err != nil {
			return err
		}
		fmt.Printf("baseline for suite %s updated from run %s (%d tasks)\n", suite, run.RunID, len(b.Tasks))
		return nil
	},
}

var baselineQuarantineCmd = &cobra.Command{
	Use:   "quarantine <task-id>",
	Short: "Quarantine a flaky task so it cannot block runs",
	Long: `Marks a baseline entry quarantined: the task keeps running and
reporting, but its failures classify as quarantined instead of regression.
Requires --reason, like every baseline change.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if baselineReason == "" {
			return errors.New("--reason is required")
		}

		b, err := baseline.Load(cfg.Corpus.BaselineDir, baselineSuite)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("no baseline recorded for suite %q", suiteOrDefault())
		}
		entry, ok := b.Tasks[args[0]]
		if !ok {
			return fmt.Errorf("task %s not in baseline", args[0])
		}

		entry.Status = baseline.StatusQuarantined
		b.Tasks[args[0]] = entry
		b.UpdatedAt = time.Now().UTC()
		b.Reason = baselineReason
		if err := b.Save(cfg.Corpus.BaselineDir); err != nil {
			return err
		}
		fmt.Printf("quarantined %s in suite %s\n", args[0], suiteOrDefault())
		return nil
	},
}

func suiteOrDefault() string {
	if baselineSuite != "" {
		return baselineSuite
	}
	return "default"
}

func sortedEntryIDs(b *baseline.Baseline) []string {
	ids := make([]string, 0, len(b.Tasks))
	for id := range b.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func init() {
	baselineCmd.PersistentFlags().StringVar(&baselineSuite, "suite", "", "suite name (default: default)")
	baselineUpdateCmd.Flags().StringVar(&baselineReason, "reason", "", "reason for the change")
	baselineUpdateCmd.Flags().StringVar(&baselineRunDir, "run", "", "run directory to rebuild from (default: latest)")
	baselineQuarantineCmd.Flags().StringVar(&baselineReason, "reason", "", "reason for the change")

	baselineCmd.AddCommand(baselineShowCmd)
	baselineCmd.AddCommand(baselineUpdateCmd)
	baselineCmd.AddCommand(baselineQuarantineCmd)
}
