package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/hollowvale/skillharness/internal/config"
	"github.com/hollowvale/skillharness/internal/result"
	"github.com/hollowvale/skillharness/internal/sandbox"
	"github.com/hollowvale/skillharness/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv lays out a minimal corpus: one fixture and a set of grader scripts,
// plus a run directory ready for records.
type testEnv struct {
	exec   *Executor
	runDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("grader scripts are shell scripts")
	}

	root := t.TempDir()
	cfg := config.Default
	cfg.Harness.SandboxDir = filepath.Join(root, "sandboxes")
	cfg.Harness.ResultsDir = filepath.Join(root, "results")
	cfg.Corpus.TasksDir = filepath.Join(root, "tasks")
	cfg.Corpus.FixturesDir = filepath.Join(root, "fixtures")
	cfg.Corpus.SuitesDir = filepath.Join(root, "suites")

	for _, dir := range []string{cfg.Corpus.TasksDir, cfg.Corpus.FixturesDir, cfg.Corpus.SuitesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(cfg.Corpus.FixturesDir, "fx"), 0o755); err != nil {
		t.Fatalf("mkdir fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Corpus.FixturesDir, "fx", "input.txt"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	scripts := map[string]string{
		"pass.sh":  "#!/bin/sh\nexit 0\n",
		"fail.sh":  "#!/bin/sh\nexit 1\n",
		"infra.sh": "#!/bin/sh\nexit 2\n",
	}
	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(cfg.Corpus.TasksDir, name), []byte(body), 0o755); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	logger := testLogger()
	loader := task.NewLoader(cfg.Corpus.TasksDir, cfg.Corpus.FixturesDir, cfg.Corpus.SuitesDir, logger)
	manager := sandbox.NewManager(&cfg, logger)

	runDir := filepath.Join(root, "results", "runs", "run-test")
	if err := os.MkdirAll(filepath.Join(runDir, "tasks"), 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}

	return &testEnv{
		exec:   New(&cfg, loader, manager, sandbox.ModeLocal, logger),
		runDir: runDir,
	}
}

func testTask(id, script string, trials int) *task.Task {
	return &task.Task{
		ID:            id,
		SchemaVersion: task.SchemaVersion,
		Skill:         "demo",
		Category:      task.CategoryFramework,
		Fixture:       "fx",
		Description:   "test task",
		Trials:        trials,
		Timeout:       task.Timeouts{PerTrial: 60, PerGrader: 30},
		Graders: []task.GraderSpec{
			{Type: task.GraderCode, Script: script},
		},
	}
}

func readRecords(t *testing.T, runDir, taskID string) []result.TrialResult {
	t.Helper()
	trials, err := result.ReadTrials(result.TaskResultsPath(runDir, taskID))
	if err != nil {
		t.Fatalf("ReadTrials: %v", err)
	}
	return trials
}

func TestRunTaskPassingTrial(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tk := testTask("t-pass", "pass.sh", 1)

	if err := env.exec.RunTask(context.Background(), "run-test", env.runDir, tk); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	recs := readRecords(t, env.runDir, "t-pass")
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Status != result.StatusCompleted || !r.Composite.Pass {
		t.Errorf("status=%s pass=%v, want completed/pass", r.Status, r.Composite.Pass)
	}
	if r.Trial != 1 || r.RunID != "run-test" || r.TaskID != "t-pass" {
		t.Errorf("record identity wrong: %+v", r)
	}
	if len(r.Graders) != 1 || r.Graders[0].ExitCode != 0 {
		t.Errorf("grader results wrong: %+v", r.Graders)
	}
}

func TestRunTaskFailingTrialCompletes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tk := testTask("t-fail", "fail.sh", 1)

	if err := env.exec.RunTask(context.Background(), "run-test", env.runDir, tk); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	recs := readRecords(t, env.runDir, "t-fail")
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	// A grader that fails on the merits is a completed trial, not an error.
	if recs[0].Status != result.StatusCompleted {
		t.Errorf("status = %s, want completed", recs[0].Status)
	}
	if recs[0].Composite.Pass {
		t.Error("composite should fail")
	}
	if recs[0].EarlyStopped {
		t.Error("single-trial tasks never early-stop")
	}
}

func TestEarlyStoppingEmitsSkippedRemainder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tk := testTask("t-stop", "fail.sh", 5)

	if err := env.exec.RunTask(context.Background(), "run-test", env.runDir, tk); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	recs := readRecords(t, env.runDir, "t-stop")
	// One failure makes the best case 4/5 = 0.8, below the floor, so the
	// first trial fails and the other four are synthesized as skipped.
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}
	if recs[0].Status != result.StatusCompleted {
		t.Errorf("trial 1 status = %s", recs[0].Status)
	}
	for i, r := range recs[1:] {
		if r.Status != result.StatusSkipped || !r.EarlyStopped {
			t.Errorf("trial %d: status=%s early_stopped=%v, want skipped/true", i+2, r.Status, r.EarlyStopped)
		}
		if r.Trial != i+2 {
			t.Errorf("trial number = %d, want %d", r.Trial, i+2)
		}
	}
}

func TestEarlyStoppingNeverFiresOnFinalTrial(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tk := testTask("t-two", "fail.sh", 2)
	tk.Graders[0].Script = "pass.sh"

	// Both trials pass here; the point is that after the final trial there is
	// nothing left to skip, so exactly trials records exist and none synthetic.
	if err := env.exec.RunTask(context.Background(), "run-test", env.runDir, tk); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	recs := readRecords(t, env.runDir, "t-two")
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Status == result.StatusSkipped || r.EarlyStopped {
			t.Errorf("trial %d was skipped; early stopping must not fire with no trials remaining", r.Trial)
		}
	}
}

func TestSandboxFailureRecordsErrorAndContinues(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tk := testTask("t-nofx", "pass.sh", 2)
	tk.Fixture = "does-not-exist"

	if err := env.exec.RunTask(context.Background(), "run-test", env.runDir, tk); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	recs := readRecords(t, env.runDir, "t-nofx")
	// Both trials are attempted: a broken sandbox fails the trial, not the task.
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Status != result.StatusError || !r.InfrastructureError {
			t.Errorf("trial %d: status=%s infra=%v, want error/true", r.Trial, r.Status, r.InfrastructureError)
		}
		if r.Error == "" {
			t.Errorf("trial %d: missing error detail", r.Trial)
		}
	}
}

func TestAllGradersInfraErrorIsErrorTrial(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tk := testTask("t-infra", "infra.sh", 1)

	if err := env.exec.RunTask(context.Background(), "run-test", env.runDir, tk); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	recs := readRecords(t, env.runDir, "t-infra")
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Status != result.StatusError || !recs[0].InfrastructureError {
		t.Errorf("status=%s infra=%v, want error/true", recs[0].Status, recs[0].InfrastructureError)
	}
}

func TestPartialGraderInfraErrorStillCompletes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tk := testTask("t-mixed", "pass.sh", 1)
	tk.Graders = append(tk.Graders, task.GraderSpec{Type: task.GraderCode, Script: "infra.sh"})

	if err := env.exec.RunTask(context.Background(), "run-test", env.runDir, tk); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	recs := readRecords(t, env.runDir, "t-mixed")
	if recs[0].Status != result.StatusCompleted {
		t.Fatalf("status = %s, want completed", recs[0].Status)
	}
	// The broken grader is excluded; the surviving one passes the trial.
	if !recs[0].Composite.Pass {
		t.Error("composite should pass over the gradable subset")
	}
}

func TestCanStillPass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                        string
		passes, failures, remaining int
		want                        bool
	}{
		{"all passing so far", 3, 0, 2, true},
		{"one failure of five", 0, 1, 4, false},
		{"one failure of ten", 0, 1, 9, true},
		{"two failures of ten", 0, 2, 8, false},
		{"failure early, long tail", 4, 1, 15, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := canStillPass(tt.passes, tt.failures, tt.remaining); got != tt.want {
				t.Errorf("canStillPass(%d, %d, %d) = %v, want %v",
					tt.passes, tt.failures, tt.remaining, got, tt.want)
			}
		})
	}
}
