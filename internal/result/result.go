// Package result provides trial and run record types and per-run storage.
package result

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordSchemaVersion is written into every trial and run record.
const RecordSchemaVersion = 1

// Status represents the outcome of a single trial.
type Status string

const (
	// StatusCompleted means the trial ran to completion; the composite result
	// says whether it passed.
	StatusCompleted Status = "completed"
	// StatusError means infrastructure failed before a grading verdict.
	StatusError Status = "error"
	// StatusSkipped marks synthetic records for trials cancelled by early
	// stopping.
	StatusSkipped Status = "skipped"
)

// GraderResult is the normalized outcome of one grading subprocess.
// ExitCode 2 marks an infrastructure error; such results are excluded from
// composite aggregation.
type GraderResult struct {
	Name          string  `json:"name"`
	Pass          bool    `json:"pass"`
	Score         float64 `json:"score"`
	Details       string  `json:"details,omitempty"`
	ExitCode      int     `json:"exit_code"`
	DurationMS    int64   `json:"duration_ms"`
	Weight        float64 `json:"weight"`
	GraderVersion string  `json:"grader_version,omitempty"`
}

// InfraError reports whether the grader failed for infrastructure reasons
// rather than grading ones.
func (g *GraderResult) InfraError() bool {
	return g.ExitCode == 2
}

// Composite is the single pass/score reduction of a trial's grader results.
type Composite struct {
	Strategy string  `json:"strategy"`
	Pass     bool    `json:"pass"`
	Score    float64 `json:"score"`
}

// TrialResult is the immutable record of one trial. It is written exactly
// once by the task executor and never mutated after append.
type TrialResult struct {
	RunID               string         `json:"run_id"`
	TaskID              string         `json:"task_id"`
	Trial               int            `json:"trial"`
	Timestamp           time.Time      `json:"timestamp"`
	DurationMS          int64          `json:"duration_ms"`
	Status              Status         `json:"status"`
	Graders             []GraderResult `json:"graders,omitempty"`
	Composite           Composite      `json:"composite"`
	Error               string         `json:"error,omitempty"`
	InfrastructureError bool           `json:"infrastructure_error,omitempty"`
	EarlyStopped        bool           `json:"early_stopped,omitempty"`
	SchemaVersion       int            `json:"schema_version"`
}

// Passed reports whether the trial completed with a passing composite.
func (t *TrialResult) Passed() bool {
	return t.Status == StatusCompleted && t.Composite.Pass
}

// Totals are the per-run aggregate counts, computed purely from the trial
// collection rather than accumulated in shared counters.
type Totals struct {
	TasksTotal  int `json:"tasks_total"`
	TasksPassed int `json:"tasks_passed"`
	TasksFailed int `json:"tasks_failed"`
	TasksError  int `json:"tasks_error"`
}

// Run is the run-level metadata record, created once at INIT and finalized
// once at FINALIZE.
type Run struct {
	RunID          string            `json:"run_id"`
	Suite          string            `json:"suite,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    time.Time         `json:"completed_at,omitzero"`
	DurationMS     int64             `json:"duration_ms"`
	Totals         Totals            `json:"totals"`
	GitSHA         string            `json:"git_sha,omitempty"`
	GitBranch      string            `json:"git_branch,omitempty"`
	HarnessVersion string            `json:"harness_version"`
	Environment    map[string]string `json:"environment,omitempty"`
	SchemaVersion  int               `json:"schema_version"`
}

// NewRunID builds a sortable run identifier: UTC timestamp plus a short
// random suffix to prevent collisions.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("2006-01-02T150405"), uuid.NewString()[:8])
}

// ComputeTotals derives per-task outcomes from the full trial collection.
// A task counts as passed when every non-skipped trial passed, as error when
// any trial hit infrastructure failure and none produced a grading verdict
// of pass, and as failed otherwise.
func ComputeTotals(trials []TrialResult) Totals {
	type tally struct {
		completed int
		passed    int
		errored   int
	}
	byTask := make(map[string]*tally)
	var order []string

	for _, tr := range trials {
		t, ok := byTask[tr.TaskID]
		if !ok {
			t = &tally{}
			byTask[tr.TaskID] = t
			order = append(order, tr.TaskID)
		}
		switch tr.Status {
		case StatusCompleted:
			t.completed++
			if tr.Composite.Pass {
				t.passed++
			}
		case StatusError:
			t.errored++
		case StatusSkipped:
			// Early-stopped remainder; not an observation.
		}
	}

	totals := Totals{TasksTotal: len(order)}
	for _, id := range order {
		t := byTask[id]
		switch {
		case t.completed > 0 && t.passed == t.completed && t.errored == 0:
			totals.TasksPassed++
		case t.completed == 0 && t.errored > 0:
			totals.TasksError++
		default:
			totals.TasksFailed++
		}
	}
	return totals
}
