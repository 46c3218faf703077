package grader

import (
	"github.com/hollowvale/skillharness/internal/result"
	"github.com/hollowvale/skillharness/internal/task"
)

// passThreshold is the composite score at or above which a weighted_average
// trial passes.
const passThreshold = 50.0

// Score reduces a trial's grader results into a single pass/score under the
// declared strategy. Graders that hit infrastructure errors carry no grading
// signal and are excluded from aggregation entirely.
//
// With zero gradable graders remaining, all_must_pass fails rather than
// passing vacuously: no signal is failure, not success.
func Score(strategy task.Strategy, graders []result.GraderResult) result.Composite {
	comp := result.Composite{Strategy: string(strategy)}

	gradable := make([]result.GraderResult, 0, len(graders))
	for _, g := range graders {
		if !g.InfraError() {
			gradable = append(gradable, g)
		}
	}

	switch strategy {
	case task.WeightedAverage:
		var sum, weights float64
		for _, g := range gradable {
			sum += g.Score * g.Weight
			weights += g.Weight
		}
		if weights > 0 {
			comp.Score = sum / weights
		}
		comp.Pass = len(gradable) > 0 && comp.Score >= passThreshold

	case task.AnyPass:
		for _, g := range gradable {
			if g.Pass {
				comp.Pass = true
			}
			if g.Score > comp.Score {
				comp.Score = g.Score
			}
		}

	default: // all_must_pass
		if len(gradable) == 0 {
			return comp
		}
		comp.Pass = true
		comp.Score = 100
		for _, g := range gradable {
			if !g.Pass {
				comp.Pass = false
			}
			if g.Score < comp.Score {
				comp.Score = g.Score
			}
		}
	}

	return comp
}
