// Package pipeline sequences a full harness run: preflight checks, task
// loading and validation, trial execution, result finalization, baseline
// comparison, and reporting. Phases run strictly in order with no retries;
// the controller owns the process exit code.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/hollowvale/skillharness/internal/baseline"
	"github.com/hollowvale/skillharness/internal/config"
	"github.com/hollowvale/skillharness/internal/executor"
	"github.com/hollowvale/skillharness/internal/ledger"
	"github.com/hollowvale/skillharness/internal/report"
	"github.com/hollowvale/skillharness/internal/result"
	"github.com/hollowvale/skillharness/internal/sandbox"
	"github.com/hollowvale/skillharness/internal/task"
)

// Phase identifies one step of the run sequence.
type Phase int

const (
	PhasePreflight Phase = iota
	PhaseInit
	PhaseLoadSuite
	PhaseValidateTasks
	PhaseExecuteTrials
	PhaseFinalize
	PhaseCompare
	PhaseReport
	PhaseUpdateBaseline
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePreflight:
		return "preflight"
	case PhaseInit:
		return "init"
	case PhaseLoadSuite:
		return "load-suite"
	case PhaseValidateTasks:
		return "validate-tasks"
	case PhaseExecuteTrials:
		return "execute-trials"
	case PhaseFinalize:
		return "finalize"
	case PhaseCompare:
		return "compare"
	case PhaseReport:
		return "report"
	case PhaseUpdateBaseline:
		return "update-baseline"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Process exit codes.
const (
	ExitPass           = 0
	ExitRegression     = 1
	ExitInfrastructure = 2
	ExitConfig         = 3
)

// Options select what a run executes and how it reports.
type Options struct {
	Selection        task.Selection
	Mode             sandbox.Mode
	AllowUnsandboxed bool
	UpdateBaseline   bool
	BaselineReason   string
	ReportFormat     string
	HarnessVersion   string
	Out              io.Writer
}

// Controller drives one run through every phase.
type Controller struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	// state accumulated across phases
	runID    string
	runDir   string
	run      *result.Run
	tasks    []*task.Task
	defaults task.Defaults
	trials   []result.TrialResult
	cmps     []baseline.Comparison
}

// New builds a controller. Out defaults to stdout.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *Controller {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Controller{cfg: cfg, opts: opts, logger: logger}
}

// fail carries the exit code a phase failure maps to.
type fail struct {
	code int
	err  error
}

func (f *fail) Error() string { return f.err.Error() }
func (f *fail) Unwrap() error { return f.err }

func configFail(err error) error { return &fail{code: ExitConfig, err: err} }
func infraFail(err error) error  { return &fail{code: ExitInfrastructure, err: err} }

// Run executes all phases in order and returns the process exit code.
func (c *Controller) Run(ctx context.Context) int {
	phases := []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{PhasePreflight, c.preflight},
		{PhaseInit, c.initRun},
		{PhaseLoadSuite, c.loadSuite},
		{PhaseValidateTasks, c.validateTasks},
		{PhaseExecuteTrials, c.executeTrials},
		{PhaseFinalize, c.finalize},
		{PhaseCompare, c.compare},
		{PhaseReport, c.report},
		{PhaseUpdateBaseline, c.updateBaseline},
	}

	for _, p := range phases {
		c.logger.Debug("entering phase", "phase", p.phase.String())
		if err := p.run(ctx); err != nil {
			c.logger.Error("phase failed", "phase", p.phase.String(), "error", err)
			var f *fail
			if errors.As(err, &f) {
				return f.code
			}
			return ExitInfrastructure
		}
	}

	c.logger.Debug("entering phase", "phase", PhaseDone.String())
	return c.exitCode()
}

// exitCode reduces the run to the final verdict. Advisory regressions inform
// the report but never fail the run; a blocking regression outranks trial
// infrastructure errors, which in turn outrank a clean pass.
func (c *Controller) exitCode() int {
	for _, cmp := range c.cmps {
		if cmp.Class.Blocking() && !cmp.Advisory {
			return ExitRegression
		}
	}
	for i := range c.trials {
		if c.trials[i].InfrastructureError {
			return ExitInfrastructure
		}
	}
	return ExitPass
}

func (c *Controller) preflight(ctx context.Context) error {
	tools := []string{"git"}
	if c.opts.Mode == sandbox.ModeContainer {
		if c.cfg.Docker.Image == "" {
			return configFail(errors.New("container mode requires docker.image in the configuration"))
		}
		tools = append(tools, "docker")
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			return configFail(fmt.Errorf("required tool not found: %s", tool))
		}
	}

	if c.opts.Mode == sandbox.ModeLocal && !c.opts.AllowUnsandboxed {
		return configFail(errors.New(
			"local mode runs graders without container isolation; pass --allow-unsandboxed to consent"))
	}

	if _, err := os.Stat(c.cfg.Corpus.TasksDir); err != nil {
		return configFail(fmt.Errorf("task corpus root: %w", err))
	}
	return nil
}

func (c *Controller) initRun(ctx context.Context) error {
	now := time.Now()
	c.runID = result.NewRunID(now)

	runDir, err := result.CreateRunDir(c.cfg.Harness.ResultsDir, c.runID)
	if err != nil {
		return infraFail(err)
	}
	c.runDir = runDir

	sha, branch := gitInfo(ctx)
	c.run = &result.Run{
		RunID:          c.runID,
		Suite:          c.suiteName(),
		StartedAt:      now.UTC(),
		GitSHA:         sha,
		GitBranch:      branch,
		HarnessVersion: c.opts.HarnessVersion,
		Environment: map[string]string{
			"os":            runtime.GOOS,
			"arch":          runtime.GOARCH,
			"model_version": c.cfg.Compare.ModelVersion,
			"sandbox_mode":  string(c.opts.Mode),
		},
		SchemaVersion: result.RecordSchemaVersion,
	}

	c.logger.Info("run initialized", "run_id", c.runID, "dir", c.runDir)
	return nil
}

func (c *Controller) loadSuite(ctx context.Context) error {
	loader := c.newLoader()
	tasks, defaults, issues, err := loader.Resolve(c.opts.Selection)
	if err != nil {
		return configFail(err)
	}
	for _, issue := range issues {
		c.logger.Warn("task dropped during load", "task", issue.TaskID, "path", issue.Path, "error", issue.Err)
	}

	// Suite defaults take precedence; the config supplies the rest.
	if defaults.Trials <= 0 {
		defaults.Trials = c.cfg.Harness.DefaultTrials
	}
	if defaults.PerTrial <= 0 {
		defaults.PerTrial = c.cfg.Harness.PerTrialTimeout
	}
	if defaults.PerGrader <= 0 {
		defaults.PerGrader = c.cfg.Harness.PerGraderTimeout
	}

	c.tasks = tasks
	c.defaults = defaults
	return nil
}

func (c *Controller) validateTasks(ctx context.Context) error {
	loader := c.newLoader()
	valid, issues := loader.ValidateAll(c.tasks, c.defaults)
	for _, issue := range issues {
		c.logger.Warn("task failed validation", "task", issue.TaskID, "error", issue.Err)
	}
	if len(valid) == 0 {
		return configFail(errors.New("no valid tasks remain after validation"))
	}
	c.tasks = valid
	c.logger.Info("tasks validated", "valid", len(valid), "dropped", len(issues))
	return nil
}

func (c *Controller) executeTrials(ctx context.Context) error {
	manager := sandbox.NewManager(c.cfg, c.logger)
	defer manager.Close()
	// Whatever individual trials leave behind gets swept by run id.
	defer manager.DestroyAll(c.runID)

	runner := executor.New(c.cfg, c.newLoader(), manager, c.opts.Mode, c.logger)
	if err := runner.Run(ctx, c.runID, c.runDir, c.tasks); err != nil {
		return infraFail(err)
	}
	return nil
}

func (c *Controller) finalize(ctx context.Context) error {
	trials, err := result.MergeRun(c.runDir)
	if err != nil {
		return infraFail(err)
	}
	c.trials = trials

	c.run.Finalize(trials, time.Now())
	if err := result.WriteRun(c.runDir, c.run); err != nil {
		return infraFail(err)
	}

	led := ledger.New(c.cfg.Harness.LedgerPath, c.logger)
	if err := led.Append(&ledger.Entry{Run: *c.run, Trials: trials}); err != nil {
		// One lost ledger entry is recoverable; a failed run is not.
		c.logger.Warn("ledger append failed", "error", err)
	}
	return nil
}

func (c *Controller) compare(ctx context.Context) error {
	base, err := baseline.Load(c.cfg.Corpus.BaselineDir, c.suiteName())
	if err != nil {
		return configFail(err)
	}

	aggs := baseline.AggregateTrials(c.trials)
	cmp := baseline.NewComparator(c.cfg.Compare.RegressionThreshold, c.cfg.Compare.ModelVersion, c.logger)
	c.cmps = cmp.Compare(aggs, base)
	return nil
}

func (c *Controller) report(ctx context.Context) error {
	rep := report.New(c.run, c.cmps)
	if err := rep.WriteFile(c.runDir); err != nil {
		return infraFail(err)
	}
	if err := rep.Render(c.opts.ReportFormat, c.opts.Out); err != nil {
		return infraFail(err)
	}
	return nil
}

func (c *Controller) updateBaseline(ctx context.Context) error {
	if !c.opts.UpdateBaseline {
		return nil
	}
	if strings.TrimSpace(c.opts.BaselineReason) == "" {
		return configFail(errors.New("baseline update requires --reason"))
	}

	prev, err := baseline.Load(c.cfg.Corpus.BaselineDir, c.suiteName())
	if err != nil {
		return configFail(err)
	}

	aggs := baseline.AggregateTrials(c.trials)
	b := baseline.FromAggregates(c.suiteName(), c.cfg.Compare.ModelVersion, c.opts.BaselineReason, c.runID, aggs, prev, time.Now())
	if err := b.Save(c.cfg.Corpus.BaselineDir); err != nil {
		return infraFail(err)
	}
	c.logger.Info("baseline updated", "suite", c.suiteName(), "tasks", len(b.Tasks))
	return nil
}

func (c *Controller) suiteName() string {
	if c.opts.Selection.Suite != "" {
		return c.opts.Selection.Suite
	}
	return "default"
}

func (c *Controller) newLoader() *task.Loader {
	return task.NewLoader(c.cfg.Corpus.TasksDir, c.cfg.Corpus.FixturesDir, c.cfg.Corpus.SuitesDir, c.logger)
}

// gitInfo captures the commit and branch of the working tree the harness runs
// in, best effort.
func gitInfo(ctx context.Context) (sha, branch string) {
	sha = gitOutput(ctx, "rev-parse", "HEAD")
	branch = gitOutput(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	return sha, branch
}

func gitOutput(ctx context.Context, args ...string) string {
	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
