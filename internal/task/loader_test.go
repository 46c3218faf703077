package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeCorpus lays out a minimal corpus under a temp dir and returns its
// tasks, fixtures, and suites roots.
func writeCorpus(t *testing.T) (string, string, string) {
	t.Helper()
	root := t.TempDir()
	tasksDir := filepath.Join(root, "tasks")
	fixturesDir := filepath.Join(root, "fixtures")
	suitesDir := filepath.Join(root, "suites")
	for _, d := range []string{tasksDir, fixturesDir, suitesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	return tasksDir, fixturesDir, suitesDir
}

func writeTaskFile(t *testing.T, tasksDir, name, content string) {
	t.Helper()
	path := filepath.Join(tasksDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func taskTOML(id, skill string) string {
	return `
id = "` + id + `"
schema_version = 1
skill = "` + skill + `"
category = "framework"
fixture = "demo"
description = "d"

[[graders]]
type = "code"
script = "graders/check.sh"
`
}

func TestLoadAll(t *testing.T) {
	t.Parallel()

	tasksDir, fixturesDir, suitesDir := writeCorpus(t)
	writeTaskFile(t, tasksDir, "alpha.toml", taskTOML("alpha", "memory"))
	writeTaskFile(t, tasksDir, "beta.toml", taskTOML("beta", "recall"))
	writeTaskFile(t, tasksDir, "mismatch.toml", taskTOML("other-id", "memory"))
	writeTaskFile(t, tasksDir, "broken.toml", "id = [not toml")

	l := NewLoader(tasksDir, fixturesDir, suitesDir, nil)
	tasks, issues, err := l.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll error: %v", err)
	}

	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != "alpha" || tasks[1].ID != "beta" {
		t.Errorf("tasks not sorted by id: %s, %s", tasks[0].ID, tasks[1].ID)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2: %v", len(issues), issues)
	}
}

func TestLoadAllDuplicateID(t *testing.T) {
	t.Parallel()

	tasksDir, fixturesDir, suitesDir := writeCorpus(t)
	writeTaskFile(t, tasksDir, "a/alpha.toml", taskTOML("alpha", "memory"))
	writeTaskFile(t, tasksDir, "b/alpha.toml", taskTOML("alpha", "memory"))

	l := NewLoader(tasksDir, fixturesDir, suitesDir, nil)
	tasks, issues, err := l.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if len(issues) != 1 || !strings.Contains(issues[0].Err.Error(), "duplicate id") {
		t.Fatalf("issues = %v, want duplicate id", issues)
	}
}

func TestLoadAllMissingRoot(t *testing.T) {
	t.Parallel()

	l := NewLoader("/nonexistent/tasks", "", "", nil)
	if _, _, err := l.LoadAll(); err == nil {
		t.Fatal("expected error for missing tasks root")
	}
}

func TestResolveSelection(t *testing.T) {
	t.Parallel()

	tasksDir, fixturesDir, suitesDir := writeCorpus(t)
	writeTaskFile(t, tasksDir, "memory-recall.toml", taskTOML("memory-recall", "memory"))
	writeTaskFile(t, tasksDir, "memory-store.toml", taskTOML("memory-store", "memory"))
	writeTaskFile(t, tasksDir, "routing-basic.toml", taskTOML("routing-basic", "routing"))

	suite := `
name = "memory"
include = ["memory-*"]
exclude = ["memory-store"]

[defaults]
trials = 5
per_trial = 120
`
	if err := os.WriteFile(filepath.Join(suitesDir, "memory.toml"), []byte(suite), 0o644); err != nil {
		t.Fatalf("writing suite: %v", err)
	}

	l := NewLoader(tasksDir, fixturesDir, suitesDir, nil)

	t.Run("by id", func(t *testing.T) {
		t.Parallel()

		tasks, _, _, err := l.Resolve(Selection{TaskID: "routing-basic"})
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if len(tasks) != 1 || tasks[0].ID != "routing-basic" {
			t.Fatalf("got %v", tasks)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		if _, _, _, err := l.Resolve(Selection{TaskID: "absent"}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("by skill", func(t *testing.T) {
		t.Parallel()

		tasks, _, _, err := l.Resolve(Selection{Skill: "memory"})
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if len(tasks) != 2 {
			t.Fatalf("got %d tasks, want 2", len(tasks))
		}
	})

	t.Run("by suite", func(t *testing.T) {
		t.Parallel()

		tasks, defaults, _, err := l.Resolve(Selection{Suite: "memory"})
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if len(tasks) != 1 || tasks[0].ID != "memory-recall" {
			t.Fatalf("got %v", tasks)
		}
		if defaults.Trials != 5 || defaults.PerTrial != 120 {
			t.Fatalf("defaults = %+v", defaults)
		}
	})

	t.Run("full corpus", func(t *testing.T) {
		t.Parallel()

		tasks, _, _, err := l.Resolve(Selection{})
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if len(tasks) != 3 {
			t.Fatalf("got %d tasks, want 3", len(tasks))
		}
	})
}

func TestSuiteSelectDirectoryFallback(t *testing.T) {
	t.Parallel()

	all := []*Task{
		{ID: "memory-recall", Skill: "memory", Category: CategoryFramework},
		{ID: "routing-basic", Skill: "routing", Category: CategoryRegression},
	}

	// Include entry matches no id glob, falls back to skill match.
	s := &Suite{Include: []string{"memory"}}
	picked := s.Select(all)
	if len(picked) != 1 || picked[0].ID != "memory-recall" {
		t.Fatalf("got %v", picked)
	}
}

func TestValidateAll(t *testing.T) {
	t.Parallel()

	tasksDir, fixturesDir, suitesDir := writeCorpus(t)
	if err := os.MkdirAll(filepath.Join(fixturesDir, "demo"), 0o755); err != nil {
		t.Fatalf("mkdir fixture: %v", err)
	}
	scriptPath := filepath.Join(tasksDir, "graders", "check.sh")
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
		t.Fatalf("mkdir graders: %v", err)
	}
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	l := NewLoader(tasksDir, fixturesDir, suitesDir, nil)

	good := &Task{
		ID: "good", SchemaVersion: 1, Skill: "s", Category: CategoryFramework,
		Fixture: "demo", Description: "d",
		Graders: []GraderSpec{{Type: GraderCode, Script: "graders/check.sh"}},
	}
	badFixture := &Task{
		ID: "bad-fixture", SchemaVersion: 1, Skill: "s", Category: CategoryFramework,
		Fixture: "absent", Description: "d",
		Graders: []GraderSpec{{Type: GraderCode, Script: "graders/check.sh"}},
	}
	badScript := &Task{
		ID: "bad-script", SchemaVersion: 1, Skill: "s", Category: CategoryFramework,
		Fixture: "demo", Description: "d",
		Graders: []GraderSpec{{Type: GraderCode, Script: "graders/missing.sh"}},
	}
	escapeScript := &Task{
		ID: "escape-script", SchemaVersion: 1, Skill: "s", Category: CategoryFramework,
		Fixture: "demo", Description: "d",
		Graders: []GraderSpec{{Type: GraderCode, Script: "../../outside.sh"}},
	}

	valid, issues := l.ValidateAll([]*Task{good, badFixture, badScript, escapeScript}, Defaults{Trials: 3})

	if len(valid) != 1 || valid[0].ID != "good" {
		t.Fatalf("valid = %v", valid)
	}
	if valid[0].Trials != 3 {
		t.Errorf("defaults not applied: trials = %d", valid[0].Trials)
	}
	if len(issues) != 3 {
		t.Fatalf("got %d issues, want 3: %v", len(issues), issues)
	}
}

func TestValidateAllNonExecutableScript(t *testing.T) {
	t.Parallel()

	tasksDir, fixturesDir, suitesDir := writeCorpus(t)
	if err := os.MkdirAll(filepath.Join(fixturesDir, "demo"), 0o755); err != nil {
		t.Fatalf("mkdir fixture: %v", err)
	}
	scriptPath := filepath.Join(tasksDir, "check.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	l := NewLoader(tasksDir, fixturesDir, suitesDir, nil)
	tk := &Task{
		ID: "t", SchemaVersion: 1, Skill: "s", Category: CategoryFramework,
		Fixture: "demo", Description: "d",
		Graders: []GraderSpec{{Type: GraderCode, Script: "check.sh"}},
	}
	valid, issues := l.ValidateAll([]*Task{tk}, Defaults{})
	if len(valid) != 0 {
		t.Fatalf("expected task dropped, got %v", valid)
	}
	if len(issues) != 1 || !strings.Contains(issues[0].Err.Error(), "not executable") {
		t.Fatalf("issues = %v", issues)
	}
}
