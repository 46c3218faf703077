// Package executor runs the trial loop for each task: provision a sandbox,
// invoke the graders, reduce their results to a composite verdict, record the
// trial, and tear the sandbox down. Tasks run under a bounded worker pool;
// trials within one task run sequentially so early stopping can observe them
// in order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hollowvale/skillharness/internal/config"
	"github.com/hollowvale/skillharness/internal/grader"
	"github.com/hollowvale/skillharness/internal/result"
	"github.com/hollowvale/skillharness/internal/sandbox"
	"github.com/hollowvale/skillharness/internal/task"
)

// earlyStopFloor is the best-case pass rate below which the remaining trials
// cannot rescue a task from registering as a regression. It models a perfect
// baseline minus the default 0.10 threshold; the real baseline is not read
// until the comparison phase, so this stays a deliberately conservative
// approximation.
const earlyStopFloor = 0.90

// Executor drives all trials for a set of validated tasks.
type Executor struct {
	loader    *task.Loader
	sandboxes *sandbox.Manager
	graders   *grader.Runner
	mode      sandbox.Mode
	limit     int
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New builds an Executor from the shared configuration and collaborators.
func New(cfg *config.Config, loader *task.Loader, sandboxes *sandbox.Manager, mode sandbox.Mode, logger *slog.Logger) *Executor {
	return &Executor{
		loader:    loader,
		sandboxes: sandboxes,
		graders:   grader.NewRunner(logger),
		mode:      mode,
		limit:     cfg.Harness.Concurrency,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes every task under the bounded pool, appending trial records to
// the per-task result files under runDir as they complete. It returns only
// recording failures; grading outcomes, including infrastructure errors, live
// in the records themselves.
func (e *Executor) Run(ctx context.Context, runID, runDir string, tasks []*task.Task) error {
	jobs := make([]Job, len(tasks))
	for i, t := range tasks {
		jobs[i] = func() error {
			return e.RunTask(ctx, runID, runDir, t)
		}
	}
	return errors.Join(RunPool(e.limit, jobs)...)
}

// RunTask runs every trial of a single task sequentially, stopping early once
// the remaining trials cannot lift the pass rate back above the floor.
func (e *Executor) RunTask(ctx context.Context, runID, runDir string, t *task.Task) error {
	path := result.TaskResultsPath(runDir, t.ID)
	passes, failures := 0, 0

	for trial := 1; trial <= t.Trials; trial++ {
		tr := e.runTrial(ctx, runID, t, trial)
		if err := result.AppendTrial(path, tr); err != nil {
			return fmt.Errorf("recording %s trial %d: %w", t.ID, trial, err)
		}

		switch {
		case tr.Passed():
			passes++
		case tr.Status == result.StatusCompleted:
			failures++
		}

		remaining := t.Trials - trial
		if t.Trials > 1 && remaining > 0 && !canStillPass(passes, failures, remaining) {
			e.logger.Info("stopping task early",
				"task", t.ID, "after_trial", trial,
				"passes", passes, "failures", failures, "skipping", remaining)
			for skip := trial + 1; skip <= t.Trials; skip++ {
				rec := &result.TrialResult{
					RunID:         runID,
					TaskID:        t.ID,
					Trial:         skip,
					Timestamp:     e.now().UTC(),
					Status:        result.StatusSkipped,
					EarlyStopped:  true,
					SchemaVersion: result.RecordSchemaVersion,
				}
				if err := result.AppendTrial(path, rec); err != nil {
					return fmt.Errorf("recording %s skipped trial %d: %w", t.ID, skip, err)
				}
			}
			return nil
		}
	}
	return nil
}

// canStillPass reports whether the best achievable pass rate, assuming every
// remaining trial passes, still clears the floor.
func canStillPass(passes, failures, remaining int) bool {
	best := float64(passes+remaining) / float64(passes+failures+remaining)
	return best >= earlyStopFloor
}

// runTrial walks one trial through its full lifecycle. It never returns an
// error: every failure mode is captured in the record so that one broken
// trial cannot abort the task.
func (e *Executor) runTrial(ctx context.Context, runID string, t *task.Task, trial int) *result.TrialResult {
	start := e.now()
	tr := &result.TrialResult{
		RunID:         runID,
		TaskID:        t.ID,
		Trial:         trial,
		Timestamp:     start.UTC(),
		SchemaVersion: result.RecordSchemaVersion,
	}

	trialCtx := ctx
	if t.Timeout.PerTrial > 0 {
		var cancel context.CancelFunc
		trialCtx, cancel = context.WithTimeout(ctx, time.Duration(t.Timeout.PerTrial)*time.Second)
		defer cancel()
	}

	trialID := fmt.Sprintf("%s-%d", t.ID, trial)
	sb, err := e.sandboxes.Create(trialCtx, t.Fixture, runID, trialID, e.mode)
	if err != nil {
		tr.Status = result.StatusError
		tr.InfrastructureError = true
		tr.Error = err.Error()
		tr.DurationMS = e.now().Sub(start).Milliseconds()
		e.logger.Error("sandbox creation failed", "task", t.ID, "trial", trial, "error", err)
		return tr
	}
	// Teardown runs even when the trial context has already expired.
	defer e.sandboxes.Destroy(context.WithoutCancel(ctx), sb)

	graderTimeout := time.Duration(t.Timeout.PerGrader) * time.Second
	gradable := 0
	for i := range t.Graders {
		spec := &t.Graders[i]
		gr := e.runGrader(trialCtx, spec, sb.Workspace, graderTimeout)
		if !gr.InfraError() {
			gradable++
		}
		tr.Graders = append(tr.Graders, gr)
	}

	tr.DurationMS = e.now().Sub(start).Milliseconds()

	// No gradable signal at all means the infrastructure failed the trial,
	// not the task. Partial grader infrastructure errors still complete:
	// the composite aggregates over whatever graded.
	if gradable == 0 && len(t.Graders) > 0 {
		tr.Status = result.StatusError
		tr.InfrastructureError = true
		tr.Error = "all graders failed with infrastructure errors"
		tr.Composite = grader.Score(t.Strategy, tr.Graders)
		return tr
	}

	tr.Status = result.StatusCompleted
	tr.Composite = grader.Score(t.Strategy, tr.Graders)
	return tr
}

func (e *Executor) runGrader(ctx context.Context, spec *task.GraderSpec, workspace string, timeout time.Duration) result.GraderResult {
	script, err := e.loader.ResolveScript(spec)
	if err != nil {
		return result.GraderResult{
			Name:     spec.Name(),
			ExitCode: 2,
			Details:  err.Error(),
			Weight:   spec.EffectiveWeight(),
		}
	}
	return e.graders.Run(ctx, script, workspace, spec, timeout)
}
