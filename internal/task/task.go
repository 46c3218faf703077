// Package task provides task and suite definitions, corpus loading, and
// structural validation for skillharness.
package task

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaVersion is the task file schema this harness understands.
const SchemaVersion = 1

// Category classifies what a task exercises.
type Category string

const (
	CategoryFramework    Category = "framework"
	CategoryRegression   Category = "regression"
	CategorySkillQuality Category = "skill-quality"
	CategoryE2E          Category = "e2e"
)

// ParseCategory converts a string to a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryFramework, CategoryRegression, CategorySkillQuality, CategoryE2E:
		return Category(s), nil
	default:
		return "", fmt.Errorf("unknown category: %s", s)
	}
}

// Strategy selects how grader results reduce to a single composite pass/score.
type Strategy string

const (
	AllMustPass     Strategy = "all_must_pass"
	WeightedAverage Strategy = "weighted_average"
	AnyPass         Strategy = "any_pass"
)

// ParseStrategy converts a string to a Strategy. The empty string maps to the
// default all_must_pass.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return AllMustPass, nil
	case AllMustPass, WeightedAverage, AnyPass:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown composite strategy: %s", s)
	}
}

// GraderType distinguishes deterministic code graders from model-backed ones.
type GraderType string

const (
	GraderCode  GraderType = "code"
	GraderModel GraderType = "model"
)

// GraderSpec describes one grading subprocess.
type GraderSpec struct {
	Type   GraderType `json:"type"             toml:"type"`
	Script string     `json:"script"           toml:"script"`
	Args   []string   `json:"args,omitempty"   toml:"args,omitempty"`
	Weight *float64   `json:"weight,omitempty" toml:"weight,omitempty"`
}

// EffectiveWeight returns the grader weight, defaulting to 1.0.
func (g *GraderSpec) EffectiveWeight() float64 {
	if g.Weight == nil {
		return 1.0
	}
	return *g.Weight
}

// Name returns a short identifier for the grader, derived from its script.
func (g *GraderSpec) Name() string {
	name := g.Script
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

// Timeouts holds per-trial and per-grader wall-clock bounds in seconds.
type Timeouts struct {
	PerTrial  int `json:"per_trial,omitempty"  toml:"per_trial,omitempty"`
	PerGrader int `json:"per_grader,omitempty" toml:"per_grader,omitempty"`
}

// Task represents a single evaluation task, one TOML file per task.
// The id must equal the defining filename stem.
type Task struct {
	ID            string       `json:"id"                 toml:"id"`
	SchemaVersion int          `json:"schema_version"     toml:"schema_version"`
	Skill         string       `json:"skill"              toml:"skill"`
	Category      Category     `json:"category"           toml:"category"`
	Fixture       string       `json:"fixture"            toml:"fixture"`
	Description   string       `json:"description"        toml:"description"`
	Prompt        string       `json:"prompt,omitempty"   toml:"prompt,omitempty"`
	Trials        int          `json:"trials,omitempty"   toml:"trials,omitempty"`
	Timeout       Timeouts     `json:"timeout,omitempty"  toml:"timeout,omitempty"`
	Graders       []GraderSpec `json:"graders"            toml:"graders"`
	Strategy      Strategy     `json:"strategy,omitempty" toml:"strategy,omitempty"`
}

// Defaults carries suite- or config-level fallbacks for per-task settings.
type Defaults struct {
	Trials    int      `toml:"trials,omitempty"`
	PerTrial  int      `toml:"per_trial,omitempty"`
	PerGrader int      `toml:"per_grader,omitempty"`
	Strategy  Strategy `toml:"strategy,omitempty"`
}

// ApplyDefaults backfills unset task fields from d. Negative values are left
// alone for Validate to reject; only a genuinely omitted field is backfilled.
func (t *Task) ApplyDefaults(d Defaults) {
	if t.Trials == 0 && d.Trials > 0 {
		t.Trials = d.Trials
	}
	if t.Trials == 0 {
		t.Trials = 1
	}
	if t.Timeout.PerTrial <= 0 {
		t.Timeout.PerTrial = d.PerTrial
	}
	if t.Timeout.PerGrader <= 0 {
		t.Timeout.PerGrader = d.PerGrader
	}
	if t.Strategy == "" {
		t.Strategy = d.Strategy
	}
	if t.Strategy == "" {
		t.Strategy = AllMustPass
	}
}

// Validate checks the structural invariants of a task definition. It reports
// every problem it finds rather than stopping at the first.
func (t *Task) Validate() error {
	var errs []error

	if t.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if t.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Errorf("unsupported schema_version %d (want %d)", t.SchemaVersion, SchemaVersion))
	}
	if t.Skill == "" {
		errs = append(errs, errors.New("skill is required"))
	}
	if _, err := ParseCategory(string(t.Category)); err != nil {
		errs = append(errs, err)
	}
	if t.Fixture == "" {
		errs = append(errs, errors.New("fixture is required"))
	}
	if t.Description == "" {
		errs = append(errs, errors.New("description is required"))
	}
	if (t.Category == CategorySkillQuality || t.Category == CategoryE2E) && t.Prompt == "" {
		errs = append(errs, fmt.Errorf("prompt is required for category %s", t.Category))
	}
	if t.Trials < 0 {
		errs = append(errs, fmt.Errorf("trials must be positive, got %d", t.Trials))
	}
	if len(t.Graders) == 0 {
		errs = append(errs, errors.New("at least one grader is required"))
	}
	if _, err := ParseStrategy(string(t.Strategy)); err != nil {
		errs = append(errs, err)
	}

	for i, g := range t.Graders {
		if g.Type != GraderCode && g.Type != GraderModel {
			errs = append(errs, fmt.Errorf("grader %d: unknown type %q", i, g.Type))
		}
		if g.Script == "" {
			errs = append(errs, fmt.Errorf("grader %d: script is required", i))
		}
		if g.Weight != nil && *g.Weight < 0 {
			errs = append(errs, fmt.Errorf("grader %d: weight must be >= 0, got %v", i, *g.Weight))
		}
		for _, arg := range g.Args {
			if err := CheckGraderArg(arg); err != nil {
				errs = append(errs, fmt.Errorf("grader %d: %w", i, err))
			}
		}
	}

	return errors.Join(errs...)
}
