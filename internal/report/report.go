// Package report renders a finished run's comparison results for humans and
// for machines. Both renderings carry the same classification counts so a CI
// consumer and a terminal reader never disagree about what happened.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hollowvale/skillharness/internal/baseline"
	"github.com/hollowvale/skillharness/internal/result"
)

// Summary is the run-level rollup of comparison classifications.
type Summary struct {
	RunID       string         `json:"run_id"`
	Suite       string         `json:"suite,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
	Totals      result.Totals  `json:"totals"`
	Counts      map[string]int `json:"counts"`
	Regressions int            `json:"regressions"`
	Advisory    bool           `json:"advisory"`
}

// Report bundles everything a renderer needs.
type Report struct {
	Summary     Summary               `json:"summary"`
	Comparisons []baseline.Comparison `json:"comparisons"`
}

// New builds a report from a finalized run and its comparisons.
func New(run *result.Run, cmps []baseline.Comparison) *Report {
	counts := make(map[string]int)
	regressions := 0
	advisory := false
	for _, c := range cmps {
		counts[c.Class.String()]++
		if c.Class.Blocking() {
			regressions++
		}
		if c.Advisory {
			advisory = true
		}
	}
	return &Report{
		Summary: Summary{
			RunID:       run.RunID,
			Suite:       run.Suite,
			CompletedAt: run.CompletedAt,
			Totals:      run.Totals,
			Counts:      counts,
			Regressions: regressions,
			Advisory:    advisory,
		},
		Comparisons: cmps,
	}
}

// Render writes the report in the requested format: "json" or the default
// aligned table.
func (r *Report) Render(format string, w io.Writer) error {
	switch format {
	case "json":
		return r.writeJSON(w)
	default:
		return r.writeTable(w)
	}
}

// WriteFile persists the JSON rendering as comparison.json inside the run
// directory, next to run.json and the merged trial segment.
func (r *Report) WriteFile(runDir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling comparison record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "comparison.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing comparison record: %w", err)
	}
	return nil
}

func (r *Report) writeJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r *Report) writeTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tCLASS\tPASS RATE\tBASELINE\tDELTA\tTRIALS\tSCORE")
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	for _, c := range r.Comparisons {
		class := c.Class.String()
		if c.Advisory {
			class += " (advisory)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%.0f%%\t%+.2f\t%d\t%.1f\n",
			c.TaskID, class, c.PassRate*100, c.BaselinePassRate*100, c.Delta, c.Trials, c.MeanScore)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nrun %s: %d tasks, %d passed, %d failed, %d errored\n",
		r.Summary.RunID, r.Summary.Totals.TasksTotal, r.Summary.Totals.TasksPassed,
		r.Summary.Totals.TasksFailed, r.Summary.Totals.TasksError)
	if r.Summary.Regressions > 0 {
		fmt.Fprintf(w, "%d regression(s) detected\n", r.Summary.Regressions)
	}
	if r.Summary.Advisory {
		fmt.Fprintln(w, "advisory run: classifications inform but do not block")
	}
	return nil
}
