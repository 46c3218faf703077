package baseline

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// Classification is the closed set of per-task comparison outcomes.
type Classification int

const (
	// ClassNew: no baseline entry exists for the task.
	ClassNew Classification = iota
	// ClassPass: pass rate holds at or matches the baseline.
	ClassPass
	// ClassImprovement: pass rate strictly exceeds the baseline.
	ClassImprovement
	// ClassDegraded: pass rate dropped, but not enough to call regression.
	ClassDegraded
	// ClassRegression: pass rate dropped beyond the threshold with
	// statistical backing.
	ClassRegression
	// ClassMissing: the baseline expects the task but the run produced no
	// results for it.
	ClassMissing
	// ClassQuarantined: the baseline marks the task unstable; comparison is
	// suppressed.
	ClassQuarantined
)

func (c Classification) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassPass:
		return "pass"
	case ClassImprovement:
		return "improvement"
	case ClassDegraded:
		return "degraded"
	case ClassRegression:
		return "regression"
	case ClassMissing:
		return "missing"
	case ClassQuarantined:
		return "quarantined"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// MarshalJSON renders the classification by name in reports.
func (c Classification) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// Blocking reports whether the classification should fail the run.
func (c Classification) Blocking() bool {
	return c == ClassRegression
}

// Comparison is one task's verdict against the baseline.
type Comparison struct {
	TaskID           string         `json:"task_id"`
	Class            Classification `json:"classification"`
	Advisory         bool           `json:"advisory,omitempty"`
	PassRate         float64        `json:"pass_rate"`
	BaselinePassRate float64        `json:"baseline_pass_rate"`
	Delta            float64        `json:"delta"`
	Trials           int            `json:"trials"`
	BaselineTrials   int            `json:"baseline_trials"`
	MeanScore        float64        `json:"mean_score"`
	Interval         Interval       `json:"interval"`
}

// Comparator classifies aggregated run results against a stored baseline.
type Comparator struct {
	threshold    float64
	modelVersion string
	logger       *slog.Logger
}

// NewComparator builds a comparator with the configured regression threshold
// and the version of the model/agent executing this run.
func NewComparator(threshold float64, modelVersion string, logger *slog.Logger) *Comparator {
	return &Comparator{
		threshold:    threshold,
		modelVersion: modelVersion,
		logger:       logger,
	}
}

// Compare classifies every task in the current results, plus every baseline
// task the run left unobserved, sorted by task id. A nil baseline classifies
// everything as new.
func (c *Comparator) Compare(current map[string]Aggregate, base *Baseline) []Comparison {
	var out []Comparison

	// A model version change invalidates strict comparison: the whole run
	// carries an advisory flag so classifications inform but never block.
	advisoryAll := false
	if base != nil && base.ModelVersion != "" && c.modelVersion != "" && base.ModelVersion != c.modelVersion {
		advisoryAll = true
		c.logger.Warn("model version differs from baseline; run is advisory",
			"current", c.modelVersion, "baseline", base.ModelVersion)
	}

	for _, id := range SortedTaskIDs(current) {
		out = append(out, c.compareTask(current[id], base, advisoryAll))
	}

	if base != nil {
		var absent []string
		for id := range base.Tasks {
			if _, ok := current[id]; !ok {
				absent = append(absent, id)
			}
		}
		sort.Strings(absent)
		for _, id := range absent {
			e := base.Tasks[id]
			cmp := Comparison{
				TaskID:           id,
				Class:            ClassMissing,
				Advisory:         advisoryAll,
				BaselinePassRate: e.PassRate,
				BaselineTrials:   e.Trials,
				Delta:            0 - e.PassRate,
			}
			if e.Status == StatusQuarantined {
				cmp.Class = ClassQuarantined
			}
			out = append(out, cmp)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	}

	return out
}

func (c *Comparator) compareTask(a Aggregate, base *Baseline, advisoryAll bool) Comparison {
	cmp := Comparison{
		TaskID:    a.TaskID,
		Advisory:  advisoryAll,
		PassRate:  a.PassRate,
		Trials:    a.Trials,
		MeanScore: a.MeanScore,
		Interval:  Wilson(a.Passes, a.Trials),
	}

	if base == nil {
		cmp.Class = ClassNew
		return cmp
	}
	entry, ok := base.Tasks[a.TaskID]
	if !ok {
		cmp.Class = ClassNew
		return cmp
	}

	cmp.BaselinePassRate = entry.PassRate
	cmp.BaselineTrials = entry.Trials
	cmp.Delta = a.PassRate - entry.PassRate

	if entry.Status == StatusQuarantined {
		cmp.Class = ClassQuarantined
		return cmp
	}

	if a.Trials == 1 {
		c.classifySingle(&cmp, entry)
	} else {
		c.classifyMulti(&cmp, a, entry)
	}
	return cmp
}

// classifySingle applies exact comparison: one sample carries no interval
// worth computing.
func (c *Comparator) classifySingle(cmp *Comparison, entry Entry) {
	switch {
	case cmp.PassRate > entry.PassRate:
		cmp.Class = ClassImprovement
	case cmp.PassRate == entry.PassRate:
		cmp.Class = ClassPass
	case cmp.PassRate < entry.PassRate-c.threshold:
		cmp.Class = ClassRegression
		// One failing sample against an established multi-trial baseline is
		// weak evidence; flag it rather than block on it.
		if entry.Trials > 1 {
			cmp.Advisory = true
		}
	default:
		cmp.Class = ClassDegraded
	}
}

// classifyMulti compares Wilson interval bounds rather than point estimates.
// Regression requires the current interval's upper bound to sit more than
// the threshold below the baseline interval's upper bound: even the most
// optimistic reading of the run falls short, so small-sample noise cannot
// manufacture the verdict.
func (c *Comparator) classifyMulti(cmp *Comparison, a Aggregate, entry Entry) {
	basePasses := int(math.Round(entry.PassRate * float64(entry.Trials)))
	baseInterval := Wilson(basePasses, entry.Trials)

	switch {
	case cmp.Interval.Upper < baseInterval.Upper-c.threshold:
		cmp.Class = ClassRegression
	case a.PassRate > entry.PassRate:
		cmp.Class = ClassImprovement
	case a.PassRate >= entry.PassRate:
		cmp.Class = ClassPass
	default:
		cmp.Class = ClassDegraded
	}
}
