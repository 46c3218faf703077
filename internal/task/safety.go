package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathSafety marks a fixture or script path that escapes its root.
var ErrPathSafety = errors.New("path safety violation")

// ErrFixtureNotFound marks a fixture directory that does not exist.
var ErrFixtureNotFound = errors.New("fixture not found")

// graderArgMetachars are rejected in grader arguments. Arguments are passed
// positionally and never through a shell, but task files are data-driven
// configuration and a hostile value must not survive validation either.
const graderArgMetachars = ";|&$`\\"

// CheckGraderArg rejects arguments containing shell metacharacters or path
// traversal sequences.
func CheckGraderArg(arg string) error {
	if strings.ContainsAny(arg, graderArgMetachars) {
		return fmt.Errorf("argument %q contains shell metacharacters", arg)
	}
	if strings.Contains(arg, "..") {
		return fmt.Errorf("argument %q contains path traversal", arg)
	}
	return nil
}

// ResolveFixture resolves a fixture reference against the fixtures root and
// verifies it cannot escape it. The returned path is absolute and fully
// symlink-resolved. Fails with ErrPathSafety on traversal or symlink escape,
// ErrFixtureNotFound if the directory is absent.
func ResolveFixture(fixturesRoot, fixture string) (string, error) {
	if fixture == "" {
		return "", fmt.Errorf("%w: empty fixture reference", ErrPathSafety)
	}
	if filepath.IsAbs(fixture) {
		return "", fmt.Errorf("%w: fixture %q must be relative to the fixtures root", ErrPathSafety, fixture)
	}
	for _, part := range strings.Split(filepath.ToSlash(fixture), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: fixture %q contains traversal sequence", ErrPathSafety, fixture)
		}
	}

	root, err := filepath.Abs(fixturesRoot)
	if err != nil {
		return "", fmt.Errorf("resolving fixtures root: %w", err)
	}

	candidate := filepath.Join(root, fixture)
	info, err := os.Stat(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFixtureNotFound, fixture)
		}
		return "", fmt.Errorf("checking fixture %s: %w", fixture, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrFixtureNotFound, fixture)
	}

	// Resolve symlinks on both sides so a link inside the fixture tree cannot
	// point the copy source outside the evals tree.
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolving fixtures root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving fixture %s: %w", fixture, err)
	}
	if !within(resolvedRoot, resolved) {
		return "", fmt.Errorf("%w: fixture %q resolves outside the fixtures root", ErrPathSafety, fixture)
	}

	return resolved, nil
}

// CheckFixtureTree walks a resolved fixture directory and rejects any symlink
// whose target lies outside the fixture or the evals root.
func CheckFixtureTree(fixtureDir, evalsRoot string) error {
	resolvedEvals, err := filepath.EvalSymlinks(evalsRoot)
	if err != nil {
		return fmt.Errorf("resolving evals root: %w", err)
	}

	return filepath.Walk(fixtureDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("%w: broken symlink %s", ErrPathSafety, path)
		}
		if !within(fixtureDir, target) && !within(resolvedEvals, target) {
			return fmt.Errorf("%w: symlink %s points outside the evals tree", ErrPathSafety, path)
		}
		return nil
	})
}

// within reports whether path is root or lies under root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}
