package result

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CreateRunDir creates results/runs/<run_id>/ and repoints the latest
// symlink at it.
func CreateRunDir(resultsDir, runID string) (string, error) {
	runDir, err := filepath.Abs(filepath.Join(resultsDir, "runs", runID))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(runDir, "tasks"), 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}

	latest := filepath.Join(resultsDir, "latest")
	_ = os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		// Non-fatal: filesystems without symlink support still get a usable run dir.
		return runDir, nil
	}
	return runDir, nil
}

// TaskResultsPath returns the per-task trial file inside a run directory.
// Each file has a single writer (the task's executor goroutine).
func TaskResultsPath(runDir, taskID string) string {
	return filepath.Join(runDir, "tasks", taskID+".jsonl")
}

// AppendTrial appends one trial record as a JSON line.
func AppendTrial(path string, tr *TrialResult) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening trial file: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	if err := enc.Encode(tr); err != nil {
		return fmt.Errorf("encoding trial record: %w", err)
	}
	return nil
}

// ReadTrials reads all trial records from a JSONL file.
func ReadTrials(path string) ([]TrialResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trial file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var trials []TrialResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var tr TrialResult
		if err := json.Unmarshal([]byte(line), &tr); err != nil {
			return nil, fmt.Errorf("parsing trial record: %w", err)
		}
		trials = append(trials, tr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trial file: %w", err)
	}
	return trials, nil
}

// MergeRun performs the single-threaded FINALIZE merge: it reads every
// per-task trial file, orders records by task id then trial number, and
// writes the combined trials.jsonl segment. Returns the ordered records.
func MergeRun(runDir string) ([]TrialResult, error) {
	entries, err := os.ReadDir(filepath.Join(runDir, "tasks"))
	if err != nil {
		return nil, fmt.Errorf("reading task results: %w", err)
	}

	var all []TrialResult
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		trials, err := ReadTrials(filepath.Join(runDir, "tasks", e.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, trials...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].TaskID != all[j].TaskID {
			return all[i].TaskID < all[j].TaskID
		}
		return all[i].Trial < all[j].Trial
	})

	f, err := os.Create(filepath.Join(runDir, "trials.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("creating merged segment: %w", err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for i := range all {
		if err := enc.Encode(&all[i]); err != nil {
			return nil, fmt.Errorf("writing merged segment: %w", err)
		}
	}
	return all, nil
}

// WriteRun persists the run metadata record.
func WriteRun(runDir string, run *Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run record: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "run.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing run record: %w", err)
	}
	return nil
}

// ReadRun loads a run metadata record from a run directory.
func ReadRun(runDir string) (*Run, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "run.json"))
	if err != nil {
		return nil, fmt.Errorf("reading run record: %w", err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("parsing run record: %w", err)
	}
	return &run, nil
}

// Finalize stamps completion time and totals onto the run record.
func (r *Run) Finalize(trials []TrialResult, now time.Time) {
	r.CompletedAt = now
	r.DurationMS = now.Sub(r.StartedAt).Milliseconds()
	r.Totals = ComputeTotals(trials)
}
