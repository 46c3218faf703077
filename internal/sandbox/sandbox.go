// Package sandbox provisions isolated, disposable per-trial workspaces and
// guarantees their teardown.
package sandbox

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hollowvale/skillharness/internal/config"
	"github.com/hollowvale/skillharness/internal/task"
)

// Mode selects the isolation level for a sandbox.
type Mode string

const (
	// ModeLocal isolates through a disposable directory tree only.
	ModeLocal Mode = "local"
	// ModeContainer additionally runs grading inside a network-isolated,
	// resource-capped container.
	ModeContainer Mode = "container"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLocal:
		return ModeLocal, nil
	case ModeContainer:
		return ModeContainer, nil
	default:
		return "", fmt.Errorf("unknown sandbox mode: %s", s)
	}
}

// Dependency strategies a fixture may declare.
const (
	DepsNone         = "none"
	DepsPrebaked     = "prebaked"
	DepsOfflineCache = "offline-cache"
)

// Sandbox is one trial's ephemeral directory tree.
type Sandbox struct {
	RunID       string
	TrialID     string
	Root        string
	Home        string
	Tmp         string
	Workspace   string
	ContainerID string
}

// Fingerprint is the environment audit record written into every sandbox.
type Fingerprint struct {
	SandboxPath string            `json:"sandbox_path"`
	FixtureHash string            `json:"fixture_hash"`
	Strategy    string            `json:"dependency_strategy"`
	Mode        string            `json:"mode"`
	OS          string            `json:"os"`
	Arch        string            `json:"arch"`
	CreatedAt   time.Time         `json:"created_at"`
	Tools       map[string]string `json:"tools"`
}

// Manager provisions and destroys sandboxes under a single root directory.
type Manager struct {
	root        string
	fixturesDir string
	strategy    string
	cacheDir    string
	dockerCfg   config.DockerConfig
	docker      *ContainerClient
	logger      *slog.Logger
}

// NewManager creates a sandbox manager. The Docker client is dialed lazily,
// only when a container-mode sandbox is first requested.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		root:        cfg.Harness.SandboxDir,
		fixturesDir: cfg.Corpus.FixturesDir,
		strategy:    cfg.Harness.DependencyStrategy,
		cacheDir:    cfg.Harness.OfflineCacheDir,
		dockerCfg:   cfg.Docker,
		logger:      logger,
	}
}

// Create provisions a fresh sandbox for one trial: fixture copied by value,
// empty git history initialized, dependency strategy resolved, environment
// fingerprint written. Returns the sandbox with its workspace path.
func (m *Manager) Create(ctx context.Context, fixture, runID, trialID string, mode Mode) (*Sandbox, error) {
	src, err := task.ResolveFixture(m.fixturesDir, fixture)
	if err != nil {
		return nil, err
	}
	evalsRoot := filepath.Dir(m.fixturesDir)
	if err := task.CheckFixtureTree(src, evalsRoot); err != nil {
		return nil, err
	}

	sb := &Sandbox{
		RunID:   runID,
		TrialID: trialID,
		Root:    filepath.Join(m.root, runID, trialID),
	}
	sb.Home = filepath.Join(sb.Root, "home")
	sb.Tmp = filepath.Join(sb.Root, "tmp")
	sb.Workspace = filepath.Join(sb.Root, "workspace")

	for _, dir := range []string{sb.Home, sb.Tmp, sb.Workspace} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sandbox dir: %w", err)
		}
	}

	if err := copyTree(src, sb.Workspace); err != nil {
		m.destroyDir(sb.Root)
		return nil, fmt.Errorf("copying fixture %s: %w", fixture, err)
	}

	// Hash before the git history exists so the digest covers exactly the
	// fixture contents.
	hash, err := hashTree(sb.Workspace)
	if err != nil {
		m.logger.Warn("hashing fixture copy", "trial", trialID, "error", err)
	}

	if err := m.initGitHistory(ctx, sb); err != nil {
		// Fixtures that never touch git still work without a history.
		m.logger.Warn("initializing sandbox git history", "trial", trialID, "error", err)
	}

	m.resolveDependencies(sb)
	if err := m.writeFingerprint(sb, hash, mode); err != nil {
		m.logger.Warn("writing environment fingerprint", "trial", trialID, "error", err)
	}

	if mode == ModeContainer {
		if err := m.startContainer(ctx, sb); err != nil {
			m.destroyDir(sb.Root)
			return nil, err
		}
	}

	return sb, nil
}

// Destroy removes every directory belonging to a trial. Idempotent: a missing
// trial is a warning, not an error. Runs even when grading failed.
func (m *Manager) Destroy(ctx context.Context, sb *Sandbox) {
	if sb == nil {
		return
	}
	if sb.ContainerID != "" && m.docker != nil {
		if err := m.docker.RemoveContainer(ctx, sb.ContainerID, true); err != nil {
			m.logger.Warn("removing sandbox container", "trial", sb.TrialID, "error", err)
		}
		sb.ContainerID = ""
	}
	m.destroyDir(sb.Root)
}

// DestroyTrial removes a trial sandbox by run and trial id, whether or not a
// Sandbox handle survives.
func (m *Manager) DestroyTrial(runID, trialID string) {
	dir := filepath.Join(m.root, runID, trialID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("sandbox already gone", "trial", trialID)
		return
	}
	m.destroyDir(dir)
}

// DestroyAll sweeps every sandbox belonging to a run.
func (m *Manager) DestroyAll(runID string) {
	dir := filepath.Join(m.root, runID)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("no sandboxes for run", "run", runID)
		return
	}
	m.destroyDir(dir)
}

func (m *Manager) destroyDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("removing sandbox dir", "dir", dir, "error", err)
	}
}

// initGitHistory gives the workspace an empty version-control history so
// fixtures that assume one exist.
func (m *Manager) initGitHistory(ctx context.Context, sb *Sandbox) error {
	env := append(os.Environ(),
		"HOME="+sb.Home,
		"GIT_AUTHOR_NAME=skillharness",
		"GIT_AUTHOR_EMAIL=harness@localhost",
		"GIT_COMMITTER_NAME=skillharness",
		"GIT_COMMITTER_EMAIL=harness@localhost",
	)
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"add", "-A"},
		{"commit", "--quiet", "--allow-empty", "-m", "fixture snapshot"},
	} {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = sb.Workspace
		cmd.Env = env
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// resolveDependencies applies the declared dependency strategy. Unknown
// strategies are reported but do not fail the sandbox.
func (m *Manager) resolveDependencies(sb *Sandbox) {
	switch m.strategy {
	case DepsNone, "":
		// Nothing to materialize.
	case DepsPrebaked:
		// Dependencies are assumed present in the fixture or image.
	case DepsOfflineCache:
		dst := filepath.Join(sb.Home, ".cache")
		if _, err := os.Stat(m.cacheDir); err != nil {
			m.logger.Warn("offline cache unavailable", "dir", m.cacheDir, "error", err)
			return
		}
		if err := copyTree(m.cacheDir, dst); err != nil {
			m.logger.Warn("restoring offline cache", "error", err)
		}
	default:
		m.logger.Warn("unknown dependency strategy", "strategy", m.strategy)
	}
}

func (m *Manager) writeFingerprint(sb *Sandbox, fixtureHash string, mode Mode) error {
	fp := Fingerprint{
		SandboxPath: sb.Root,
		FixtureHash: fixtureHash,
		Strategy:    m.strategy,
		Mode:        string(mode),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		CreatedAt:   time.Now().UTC(),
		Tools: map[string]string{
			"git": toolVersion("git", "--version"),
			"go":  toolVersion("go", "version"),
		},
	}
	if mode == ModeContainer {
		fp.Tools["docker"] = toolVersion("docker", "--version")
	}

	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sb.Root, "environment.json"), data, 0o644)
}

// ReadFingerprint loads a sandbox's environment audit record.
func ReadFingerprint(sandboxRoot string) (*Fingerprint, error) {
	data, err := os.ReadFile(filepath.Join(sandboxRoot, "environment.json"))
	if err != nil {
		return nil, fmt.Errorf("reading fingerprint: %w", err)
	}
	var fp Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("parsing fingerprint: %w", err)
	}
	return &fp, nil
}

func toolVersion(name string, args ...string) string {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return "unavailable"
	}
	return strings.TrimSpace(string(out))
}

// copyTree copies src into dst by value. Symlinks are dereferenced so the
// sandbox never aliases the fixture source.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		info, err := os.Stat(path) // follows symlinks
		if err != nil {
			return err
		}
		if info.IsDir() {
			// Symlinked directory: copy its contents by value.
			return copyTree(path, target)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// hashTree computes a blake3 digest over the workspace's file paths and
// contents, in path order, for the fingerprint record.
func hashTree(root string) (string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	h := blake3.New()
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return "", err
		}
		_, _ = h.Write([]byte(filepath.ToSlash(rel)))
		_, _ = h.Write([]byte{0})
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return "", err
		}
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
