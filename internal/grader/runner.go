// Package grader runs grading subprocesses and reduces their results into a
// composite trial verdict.
package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/hollowvale/skillharness/internal/result"
	"github.com/hollowvale/skillharness/internal/task"
)

const (
	// infraExitCode marks a grader result caused by infrastructure failure
	// (missing script, crash, timeout) rather than a grading verdict.
	infraExitCode = 2

	// killGrace is how long a timed-out grader gets between the termination
	// signal and the forced kill.
	killGrace = 5 * time.Second

	// maxOutputBytes caps how much grader output is retained per stream.
	maxOutputBytes = 256 * 1024
)

// structuredOutput is the optional machine-readable contract graders may emit
// on stdout. Anything else falls back to exit-code-only grading.
type structuredOutput struct {
	Pass          *bool    `json:"pass"`
	Score         *float64 `json:"score"`
	Details       string   `json:"details"`
	GraderVersion string   `json:"grader_version"`
}

// Runner executes grading subprocesses under the grader invocation contract:
// <script> <workspace> [args...], arguments passed positionally to the
// resolved executable, never through a shell.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a grader runner.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run invokes one grader against a workspace and normalizes its outcome.
// It fails closed: missing or non-executable scripts and timeouts all yield
// a synthetic failing result with the infrastructure exit code instead of an
// error return.
func (r *Runner) Run(ctx context.Context, script, workspace string, spec *task.GraderSpec, timeout time.Duration) result.GraderResult {
	res := result.GraderResult{
		Name:   spec.Name(),
		Weight: spec.EffectiveWeight(),
	}

	info, err := os.Stat(script)
	if err != nil {
		res.ExitCode = infraExitCode
		res.Details = fmt.Sprintf("grader script not found: %s", spec.Script)
		return res
	}
	if info.Mode().Perm()&0o111 == 0 {
		res.ExitCode = infraExitCode
		res.Details = fmt.Sprintf("grader script not executable: %s", spec.Script)
		return res
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append([]string{workspace}, spec.Args...)
	cmd := exec.CommandContext(runCtx, script, args...)
	cmd.Dir = workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On timeout: graceful termination first, hard kill after the grace
	// period via WaitDelay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	start := time.Now()
	err = cmd.Run()
	res.DurationMS = time.Since(start).Milliseconds()

	if runCtx.Err() != nil && ctx.Err() == nil {
		r.logger.Warn("grader timed out", "grader", res.Name, "timeout", timeout)
		res.ExitCode = infraExitCode
		res.Details = "timed out"
		return res
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = infraExitCode
			res.Details = fmt.Sprintf("invoking grader: %v", err)
			return res
		}
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			// Killed by a signal: no grading verdict was reached.
			res.ExitCode = infraExitCode
			res.Details = fmt.Sprintf("grader terminated by signal: %v", exitErr)
			return res
		}
	}

	r.normalize(&res, truncate(stdout.Bytes()), truncate(stderr.Bytes()))
	return res
}

// normalize fills pass/score/details from structured stdout when present,
// falling back to the exit code. Not every grader can emit structured output,
// so the exit code alone remains a valid contract.
func (r *Runner) normalize(res *result.GraderResult, stdout, stderr []byte) {
	var out structuredOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &out); err == nil && out.Pass != nil {
		res.Pass = *out.Pass
		if out.Score != nil {
			res.Score = clampScore(*out.Score)
		} else if res.Pass {
			res.Score = 100
		}
		res.Details = out.Details
		res.GraderVersion = out.GraderVersion
		return
	}

	res.Pass = res.ExitCode == 0
	if res.Pass {
		res.Score = 100
	}
	res.Details = Summarize(string(stdout) + string(stderr))
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func truncate(b []byte) []byte {
	if len(b) <= maxOutputBytes {
		return b
	}
	return b[:maxOutputBytes]
}
