package baseline

import (
	"sort"

	"github.com/hollowvale/skillharness/internal/result"
)

// Aggregate is the per-task reduction of one run's trial results.
type Aggregate struct {
	TaskID    string  `json:"task_id"`
	Trials    int     `json:"trials"`
	Passes    int     `json:"passes"`
	PassRate  float64 `json:"pass_rate"`
	MeanScore float64 `json:"mean_score"`
}

// AggregateTrials groups trial results by task id and reduces each group to
// pass counts, pass rate, and mean composite score. Skipped trials are not
// observations and are excluded; error trials count as observed non-passes,
// since an infrastructure failure still means the task produced no pass.
func AggregateTrials(trials []result.TrialResult) map[string]Aggregate {
	aggs := make(map[string]Aggregate)
	for i := range trials {
		tr := &trials[i]
		if tr.Status == result.StatusSkipped {
			continue
		}
		a := aggs[tr.TaskID]
		a.TaskID = tr.TaskID
		a.Trials++
		if tr.Passed() {
			a.Passes++
		}
		a.MeanScore += tr.Composite.Score
		aggs[tr.TaskID] = a
	}

	for id, a := range aggs {
		a.PassRate = float64(a.Passes) / float64(a.Trials)
		a.MeanScore /= float64(a.Trials)
		aggs[id] = a
	}
	return aggs
}

// SortedTaskIDs returns the aggregate keys in lexical order, for stable
// report and baseline output.
func SortedTaskIDs(aggs map[string]Aggregate) []string {
	ids := make([]string, 0, len(aggs))
	for id := range aggs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
