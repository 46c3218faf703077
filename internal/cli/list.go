package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hollowvale/skillharness/internal/task"
)

var (
	listSkill    string
	listCategory string
	listJSON     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the corpus",
	Long:  `Lists every loadable task, optionally filtered by skill or category.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := newLoader()
		all, issues, err := loader.LoadAll()
		if err != nil {
			return err
		}
		for _, issue := range issues {
			logger.Warn("unloadable task file", "path", issue.Path, "error", issue.Err)
		}

		var picked []*task.Task
		for _, t := range all {
			if listSkill != "" && t.Skill != listSkill {
				continue
			}
			if listCategory != "" && string(t.Category) != listCategory {
				continue
			}
			picked = append(picked, t)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(picked)
		}
		return printTaskTable(picked)
	},
}

func init() {
	listCmd.Flags().StringVar(&listSkill, "skill", "", "filter by skill")
	listCmd.Flags().StringVar(&listCategory, "category", "", "filter by category")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}

func printTaskTable(tasks []*task.Task) error {
	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSKILL\tCATEGORY\tTRIALS\tGRADERS\tDESCRIPTION")
	fmt.Fprintln(w, "--\t-----\t--------\t------\t-------\t-----------")
	for _, t := range tasks {
		desc := t.Description
		if len(desc) > 50 {
			desc = desc[:47] + "..."
		}
		trials := t.Trials
		if trials <= 0 {
			trials = 1
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			t.ID, t.Skill, t.Category, trials, len(t.Graders), desc)
	}
	return w.Flush()
}
