// Package baseline stores per-suite expected pass rates and classifies a
// run's results against them. Baselines are kept as TOML so that updates
// produce reviewable diffs.
package baseline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// SchemaVersion of the baseline file format.
const SchemaVersion = 1

// Status marks how a baseline entry participates in comparison.
type Status string

const (
	// StatusActive entries compare normally.
	StatusActive Status = "active"
	// StatusQuarantined entries suppress regression signaling; the task is
	// known unstable and its failures should not block.
	StatusQuarantined Status = "quarantined"
)

// Entry is the recorded expectation for one task.
type Entry struct {
	PassRate  float64 `toml:"pass_rate"`
	MeanScore float64 `toml:"mean_score"`
	Trials    int     `toml:"trials"`
	Status    Status  `toml:"status,omitempty"`
}

// Baseline is one suite's reference point. It is replaced wholesale on
// update, never patched entry by entry.
type Baseline struct {
	Suite           string           `toml:"suite"`
	ModelVersion    string           `toml:"model_version,omitempty"`
	UpdatedAt       time.Time        `toml:"updated_at"`
	RecordedFromRun string           `toml:"recorded_from_run,omitempty"`
	Reason          string           `toml:"reason"`
	SchemaVersion   int              `toml:"schema_version"`
	Tasks           map[string]Entry `toml:"tasks"`
}

// Path returns the baseline file location for a suite.
func Path(dir, suite string) string {
	if suite == "" {
		suite = "default"
	}
	return filepath.Join(dir, suite+".toml")
}

// Load reads a suite's baseline. A missing file is not an error: it means no
// baseline has been recorded yet and every task will classify as new.
func Load(dir, suite string) (*Baseline, error) {
	path := Path(dir, suite)
	var b Baseline
	if _, err := toml.DecodeFile(path, &b); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading baseline %s: %w", path, err)
	}
	if b.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("baseline %s: unsupported schema version %d", path, b.SchemaVersion)
	}
	return &b, nil
}

// Save writes the baseline, replacing any previous file. Every update must
// carry a reason; an unexplained baseline change is indistinguishable from a
// mistake in review.
func (b *Baseline) Save(dir string) error {
	if b.Reason == "" {
		return errors.New("baseline update requires a non-empty reason")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating baseline dir: %w", err)
	}

	path := Path(dir, b.Suite)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing baseline %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := toml.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("encoding baseline %s: %w", path, err)
	}
	return nil
}

// FromAggregates builds a fresh baseline from one run's aggregated results,
// preserving quarantine markers from the previous baseline so that updating
// does not silently re-arm known-flaky tasks. runID records which run the
// expectations were recorded from.
func FromAggregates(suite, modelVersion, reason, runID string, aggs map[string]Aggregate, prev *Baseline, now time.Time) *Baseline {
	b := &Baseline{
		Suite:           suite,
		ModelVersion:    modelVersion,
		UpdatedAt:       now.UTC(),
		RecordedFromRun: runID,
		Reason:          reason,
		SchemaVersion:   SchemaVersion,
		Tasks:           make(map[string]Entry, len(aggs)),
	}
	for id, a := range aggs {
		e := Entry{
			PassRate:  a.PassRate,
			MeanScore: a.MeanScore,
			Trials:    a.Trials,
			Status:    StatusActive,
		}
		if prev != nil {
			if old, ok := prev.Tasks[id]; ok && old.Status == StatusQuarantined {
				e.Status = StatusQuarantined
			}
		}
		b.Tasks[id] = e
	}
	return b
}
