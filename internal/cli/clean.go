package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	cleanForce     bool
	cleanSandboxes bool
	cleanResults   bool
	cleanAll       bool
	cleanRunID     string
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover sandboxes and old run results",
	Long: `Removes sandbox directories left behind by interrupted runs and,
optionally, recorded run results. The ledger and baselines are never touched.

By default, shows what would be deleted and asks for confirmation.
Use --force to skip confirmation.

Examples:
  skillharness clean                # interactive sandbox cleanup
  skillharness clean --results      # also remove recorded runs
  skillharness clean --all --force  # remove everything without asking
  skillharness clean --run <run-id> # sweep one run's leftover sandboxes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanRunID != "" {
			dir := filepath.Join(cfg.Harness.SandboxDir, cleanRunID)
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("no sandboxes for run %s", cleanRunID)
			}
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("removing %s: %w", dir, err)
			}
			fmt.Printf("Removed sandboxes for run %s.\n", cleanRunID)
			return nil
		}

		if !cleanSandboxes && !cleanResults && !cleanAll {
			cleanSandboxes = true
		}
		if cleanAll {
			cleanSandboxes = true
			cleanResults = true
		}

		var toDelete []string
		if cleanSandboxes {
			dirs, err := subdirs(cfg.Harness.SandboxDir)
			if err != nil {
				return fmt.Errorf("finding sandboxes: %w", err)
			}
			toDelete = append(toDelete, dirs...)
		}
		if cleanResults {
			dirs, err := subdirs(filepath.Join(cfg.Harness.ResultsDir, "runs"))
			if err != nil {
				return fmt.Errorf("finding runs: %w", err)
			}
			toDelete = append(toDelete, dirs...)
		}

		if len(toDelete) == 0 {
			fmt.Println("Nothing to clean.")
			return nil
		}

		fmt.Printf("Will delete %d directories:\n", len(toDelete))
		for _, dir := range toDelete {
			fmt.Printf("  %s\n", dir)
		}

		if !cleanForce && !confirm("Proceed?") {
			fmt.Println("Aborted.")
			return nil
		}

		for _, dir := range toDelete {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("could not remove", "dir", dir, "error", err)
			}
		}
		fmt.Printf("Removed %d directories.\n", len(toDelete))
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "skip confirmation")
	cleanCmd.Flags().BoolVar(&cleanSandboxes, "sandboxes", false, "clean sandbox directories")
	cleanCmd.Flags().BoolVar(&cleanResults, "results", false, "clean recorded run results")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "clean everything")
	cleanCmd.Flags().StringVar(&cleanRunID, "run", "", "remove the sandboxes of a single run id")
}

func subdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		// Skip the latest symlink; it dies with its target's parent anyway.
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
