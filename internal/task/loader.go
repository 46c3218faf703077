package task

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Issue records why a task file was dropped during loading or validation.
// Issues are per-task and non-fatal; the run aborts only when no valid task
// remains.
type Issue struct {
	Path   string
	TaskID string
	Err    error
}

func (i Issue) String() string {
	ref := i.TaskID
	if ref == "" {
		ref = i.Path
	}
	return fmt.Sprintf("%s: %v", ref, i.Err)
}

// Suite names a subset of the corpus plus suite-level defaults.
type Suite struct {
	Name     string   `toml:"name"`
	Include  []string `toml:"include"`
	Exclude  []string `toml:"exclude"`
	Defaults Defaults `toml:"defaults"`
}

// Selection describes how the caller picked tasks for a run. At most one of
// TaskID, Skill, Suite is set; all empty selects the full corpus.
type Selection struct {
	TaskID string
	Skill  string
	Suite  string
}

// Loader reads task and suite definitions from the corpus directories.
type Loader struct {
	tasksDir    string
	fixturesDir string
	suitesDir   string
	logger      *slog.Logger
}

// NewLoader creates a loader over the given corpus roots.
func NewLoader(tasksDir, fixturesDir, suitesDir string, logger *slog.Logger) *Loader {
	return &Loader{
		tasksDir:    tasksDir,
		fixturesDir: fixturesDir,
		suitesDir:   suitesDir,
		logger:      logger,
	}
}

// FixturesDir returns the fixtures root the loader validates against.
func (l *Loader) FixturesDir() string { return l.fixturesDir }

// LoadAll loads every task file under the tasks root. Files that fail to
// parse, whose id does not match the filename, or that duplicate an earlier
// id are dropped and reported as issues.
func (l *Loader) LoadAll() ([]*Task, []Issue, error) {
	if _, err := os.Stat(l.tasksDir); err != nil {
		return nil, nil, fmt.Errorf("tasks root %s: %w", l.tasksDir, err)
	}

	var tasks []*Task
	var issues []Issue
	seen := make(map[string]string) // id -> path

	err := filepath.WalkDir(l.tasksDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".toml") {
			return nil
		}

		var t Task
		if _, err := toml.DecodeFile(path, &t); err != nil {
			issues = append(issues, Issue{Path: path, Err: fmt.Errorf("parsing: %w", err)})
			return nil
		}

		stem := strings.TrimSuffix(d.Name(), ".toml")
		if t.ID != stem {
			issues = append(issues, Issue{Path: path, TaskID: t.ID,
				Err: fmt.Errorf("id %q does not match filename %q", t.ID, stem)})
			return nil
		}
		if prev, dup := seen[t.ID]; dup {
			issues = append(issues, Issue{Path: path, TaskID: t.ID,
				Err: fmt.Errorf("duplicate id, first defined in %s", prev)})
			return nil
		}
		seen[t.ID] = path

		tasks = append(tasks, &t)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking tasks root: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, issues, nil
}

// LoadSuite loads a named suite definition.
func (l *Loader) LoadSuite(name string) (*Suite, error) {
	path := filepath.Join(l.suitesDir, name+".toml")
	var s Suite
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("loading suite %s: %w", name, err)
	}
	if s.Name == "" {
		s.Name = name
	}
	return &s, nil
}

// Resolve picks the task set for a run following the selection rules:
// explicit id, skill filter, named suite (include globs minus exclude globs,
// falling back to directory-scoped matching when globbing yields nothing), or
// the full corpus. It also returns the defaults tasks inherit.
func (l *Loader) Resolve(sel Selection) ([]*Task, Defaults, []Issue, error) {
	all, issues, err := l.LoadAll()
	if err != nil {
		return nil, Defaults{}, nil, err
	}

	switch {
	case sel.TaskID != "":
		for _, t := range all {
			if t.ID == sel.TaskID {
				return []*Task{t}, Defaults{}, issues, nil
			}
		}
		return nil, Defaults{}, issues, fmt.Errorf("task not found: %s", sel.TaskID)

	case sel.Skill != "":
		var picked []*Task
		for _, t := range all {
			if t.Skill == sel.Skill {
				picked = append(picked, t)
			}
		}
		if len(picked) == 0 {
			return nil, Defaults{}, issues, fmt.Errorf("no tasks for skill: %s", sel.Skill)
		}
		return picked, Defaults{}, issues, nil

	case sel.Suite != "":
		suite, err := l.LoadSuite(sel.Suite)
		if err != nil {
			return nil, Defaults{}, issues, err
		}
		picked := suite.Select(all)
		if len(picked) == 0 {
			return nil, Defaults{}, issues, fmt.Errorf("suite %s selects no tasks", sel.Suite)
		}
		return picked, suite.Defaults, issues, nil

	default:
		return all, Defaults{}, issues, nil
	}
}

// Select applies the suite include/exclude globs to the corpus. Include globs
// match task ids; when no include glob matches anything, include entries fall
// back to matching the subdirectory the task file lives under.
func (s *Suite) Select(all []*Task) []*Task {
	included := make([]*Task, 0, len(all))

	if len(s.Include) == 0 {
		included = append(included, all...)
	} else {
		for _, t := range all {
			if matchAny(s.Include, t.ID) {
				included = append(included, t)
			}
		}
		if len(included) == 0 {
			// Directory-scoped fallback: treat include entries as category
			// prefixes on the skill or id.
			for _, t := range all {
				for _, inc := range s.Include {
					if strings.HasPrefix(t.ID, strings.TrimSuffix(inc, "/")+"-") ||
						t.Skill == inc || string(t.Category) == inc {
						included = append(included, t)
						break
					}
				}
			}
		}
	}

	var picked []*Task
	for _, t := range included {
		if !matchAny(s.Exclude, t.ID) {
			picked = append(picked, t)
		}
	}
	return picked
}

func matchAny(globs []string, id string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, id); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidateAll applies defaults and runs structural validation over the task
// set, dropping invalid tasks. Script references must resolve inside the
// tasks root, exist, and be executable; fixtures must resolve inside the
// fixtures root.
func (l *Loader) ValidateAll(tasks []*Task, defaults Defaults) ([]*Task, []Issue) {
	var valid []*Task
	var issues []Issue

	for _, t := range tasks {
		t.ApplyDefaults(defaults)

		var errs []error
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
		if t.Fixture != "" {
			if _, err := ResolveFixture(l.fixturesDir, t.Fixture); err != nil {
				errs = append(errs, err)
			}
		}
		for i := range t.Graders {
			if _, err := l.ResolveScript(&t.Graders[i]); err != nil {
				errs = append(errs, fmt.Errorf("grader %d: %w", i, err))
			}
		}

		if len(errs) > 0 {
			issue := Issue{TaskID: t.ID, Err: errors.Join(errs...)}
			issues = append(issues, issue)
			if l.logger != nil {
				l.logger.Warn("dropping invalid task", "task", t.ID, "error", issue.Err)
			}
			continue
		}
		valid = append(valid, t)
	}

	return valid, issues
}

// ResolveScript resolves a grader script reference against the tasks root and
// verifies existence and executability.
func (l *Loader) ResolveScript(g *GraderSpec) (string, error) {
	script := g.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(l.tasksDir, script)
	}

	abs, err := filepath.Abs(script)
	if err != nil {
		return "", fmt.Errorf("resolving script %s: %w", g.Script, err)
	}
	root, err := filepath.Abs(l.tasksDir)
	if err != nil {
		return "", fmt.Errorf("resolving tasks root: %w", err)
	}
	if !within(root, abs) {
		return "", fmt.Errorf("%w: script %q resolves outside the tasks root", ErrPathSafety, g.Script)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("script %s: %w", g.Script, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("script %s is a directory", g.Script)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("script %s is not executable", g.Script)
	}

	return abs, nil
}
