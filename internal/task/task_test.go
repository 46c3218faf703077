package task

import (
	"strings"
	"testing"
)

func validTask() *Task {
	return &Task{
		ID:            "memory-recall",
		SchemaVersion: 1,
		Skill:         "memory",
		Category:      CategoryFramework,
		Fixture:       "memory/basic",
		Description:   "recall a stored fact",
		Trials:        3,
		Graders:       []GraderSpec{{Type: GraderCode, Script: "graders/check.sh"}},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr string
	}{
		{name: "valid", mutate: func(*Task) {}},
		{name: "missing id", mutate: func(t *Task) { t.ID = "" }, wantErr: "id is required"},
		{name: "bad schema", mutate: func(t *Task) { t.SchemaVersion = 2 }, wantErr: "schema_version"},
		{name: "missing skill", mutate: func(t *Task) { t.Skill = "" }, wantErr: "skill is required"},
		{name: "bad category", mutate: func(t *Task) { t.Category = "perf" }, wantErr: "unknown category"},
		{name: "missing fixture", mutate: func(t *Task) { t.Fixture = "" }, wantErr: "fixture is required"},
		{name: "no graders", mutate: func(t *Task) { t.Graders = nil }, wantErr: "at least one grader"},
		{name: "negative trials", mutate: func(t *Task) { t.Trials = -5 }, wantErr: "trials must be positive"},
		{name: "bad strategy", mutate: func(t *Task) { t.Strategy = "mean" }, wantErr: "unknown composite strategy"},
		{name: "bad grader type", mutate: func(t *Task) { t.Graders[0].Type = "llm" }, wantErr: "unknown type"},
		{
			name:    "negative weight",
			mutate:  func(t *Task) { w := -0.5; t.Graders[0].Weight = &w },
			wantErr: "weight must be >= 0",
		},
		{
			name:    "metachar arg",
			mutate:  func(t *Task) { t.Graders[0].Args = []string{"a; rm -rf /"} },
			wantErr: "shell metacharacters",
		},
		{
			name:    "traversal arg",
			mutate:  func(t *Task) { t.Graders[0].Args = []string{"../../etc/passwd"} },
			wantErr: "path traversal",
		},
		{
			name: "prompt required for e2e",
			mutate: func(t *Task) {
				t.Category = CategoryE2E
				t.Prompt = ""
			},
			wantErr: "prompt is required",
		},
		{
			name: "prompt required for skill-quality",
			mutate: func(t *Task) {
				t.Category = CategorySkillQuality
			},
			wantErr: "prompt is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tk := validTask()
			tc.mutate(tk)
			err := tk.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	tk := validTask()
	tk.Skill = ""
	tk.Fixture = ""
	err := tk.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"skill is required", "fixture is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestCheckGraderArg(t *testing.T) {
	t.Parallel()

	bad := []string{"a;b", "a|b", "a&b", "a$b", "a`b", `a\b`, "..", "foo/../bar"}
	for _, arg := range bad {
		if err := CheckGraderArg(arg); err == nil {
			t.Errorf("CheckGraderArg(%q) = nil, want error", arg)
		}
	}

	good := []string{"", "--strict", "output.json", "some value", "path/to/file"}
	for _, arg := range good {
		if err := CheckGraderArg(arg); err != nil {
			t.Errorf("CheckGraderArg(%q) = %v, want nil", arg, err)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	tk := &Task{}
	tk.ApplyDefaults(Defaults{Trials: 5, PerTrial: 300, PerGrader: 60, Strategy: WeightedAverage})

	if tk.Trials != 5 {
		t.Errorf("Trials = %d, want 5", tk.Trials)
	}
	if tk.Timeout.PerTrial != 300 || tk.Timeout.PerGrader != 60 {
		t.Errorf("Timeout = %+v, want 300/60", tk.Timeout)
	}
	if tk.Strategy != WeightedAverage {
		t.Errorf("Strategy = %q, want weighted_average", tk.Strategy)
	}

	// Task-level values win over defaults.
	tk2 := &Task{Trials: 2, Strategy: AnyPass, Timeout: Timeouts{PerTrial: 30}}
	tk2.ApplyDefaults(Defaults{Trials: 5, PerTrial: 300, Strategy: WeightedAverage})
	if tk2.Trials != 2 || tk2.Strategy != AnyPass || tk2.Timeout.PerTrial != 30 {
		t.Errorf("task overrides lost: %+v", tk2)
	}

	// No defaults at all still yields one trial and the conservative strategy.
	tk3 := &Task{}
	tk3.ApplyDefaults(Defaults{})
	if tk3.Trials != 1 || tk3.Strategy != AllMustPass {
		t.Errorf("bare defaults: trials=%d strategy=%q", tk3.Trials, tk3.Strategy)
	}

	// A negative trial count is not "unset": it survives for Validate to
	// reject instead of being coerced into a runnable task.
	tk4 := &Task{Trials: -5}
	tk4.ApplyDefaults(Defaults{Trials: 3})
	if tk4.Trials != -5 {
		t.Errorf("Trials = %d, want -5 preserved for validation", tk4.Trials)
	}
	if err := tk4.Validate(); err == nil || !strings.Contains(err.Error(), "trials must be positive") {
		t.Errorf("Validate after defaults = %v, want negative-trials error", err)
	}
}

func TestGraderSpecName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		script string
		want   string
	}{
		{"graders/check_output.sh", "check_output"},
		{"check.py", "check"},
		{"graders/nested/run", "run"},
	}
	for _, tc := range tests {
		g := GraderSpec{Script: tc.script}
		if got := g.Name(); got != tc.want {
			t.Errorf("Name(%q) = %q, want %q", tc.script, got, tc.want)
		}
	}
}

func TestEffectiveWeight(t *testing.T) {
	t.Parallel()

	g := GraderSpec{}
	if g.EffectiveWeight() != 1.0 {
		t.Errorf("default weight = %v, want 1.0", g.EffectiveWeight())
	}
	w := 2.5
	g.Weight = &w
	if g.EffectiveWeight() != 2.5 {
		t.Errorf("weight = %v, want 2.5", g.EffectiveWeight())
	}
}
