package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hollowvale/skillharness/internal/task"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every task definition in the corpus",
	Long: `Loads and structurally validates the whole corpus without running
anything: schema versions, categories, fixture and grader script resolution,
argument safety, weights. Exits non-zero when any task fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := newLoader()
		all, loadIssues, err := loader.LoadAll()
		if err != nil {
			return err
		}
		valid, validateIssues := loader.ValidateAll(all, task.Defaults{})

		issues := append(loadIssues, validateIssues...)
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "invalid: %s\n", issue)
		}
		fmt.Printf("%d valid, %d invalid\n", len(valid), len(issues))

		if len(issues) > 0 {
			os.Exit(3)
		}
		return nil
	},
}

func newLoader() *task.Loader {
	return task.NewLoader(cfg.Corpus.TasksDir, cfg.Corpus.FixturesDir, cfg.Corpus.SuitesDir, logger)
}
