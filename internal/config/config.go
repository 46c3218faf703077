// Package config provides configuration loading and management for skillharness.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for skillharness.
type Config struct {
	Harness HarnessConfig `toml:"harness"`
	Corpus  CorpusConfig  `toml:"corpus"`
	Docker  DockerConfig  `toml:"docker"`
	Compare CompareConfig `toml:"compare"`
}

// HarnessConfig contains run-level settings.
type HarnessConfig struct {
	ResultsDir         string `toml:"results_dir"`
	SandboxDir         string `toml:"sandbox_dir"`
	LedgerPath         string `toml:"ledger_path"`
	Concurrency        int    `toml:"concurrency"`
	DefaultTrials      int    `toml:"default_trials"`
	PerTrialTimeout    int    `toml:"per_trial_timeout"`   // seconds
	PerGraderTimeout   int    `toml:"per_grader_timeout"`  // seconds
	DependencyStrategy string `toml:"dependency_strategy"` // none, prebaked, offline-cache
	OfflineCacheDir    string `toml:"offline_cache_dir"`
}

// CorpusConfig locates the task corpus on disk.
type CorpusConfig struct {
	TasksDir    string `toml:"tasks_dir"`
	FixturesDir string `toml:"fixtures_dir"`
	SuitesDir   string `toml:"suites_dir"`
	BaselineDir string `toml:"baseline_dir"`
}

// DockerConfig contains container sandbox settings.
type DockerConfig struct {
	Image    string  `toml:"image"`
	AutoPull bool    `toml:"auto_pull"`
	CPULimit float64 `toml:"cpu_limit"`
	MemoryMB int64   `toml:"memory_mb"`
}

// CompareConfig tunes baseline comparison.
type CompareConfig struct {
	RegressionThreshold float64 `toml:"regression_threshold"`
	ModelVersion        string  `toml:"model_version"`
}

// Default configuration values.
var Default = Config{
	Harness: HarnessConfig{
		ResultsDir:         "./results",
		SandboxDir:         "./sandboxes",
		LedgerPath:         "./results/ledger.jsonl",
		Concurrency:        4,
		DefaultTrials:      1,
		PerTrialTimeout:    600,
		PerGraderTimeout:   120,
		DependencyStrategy: "none",
		OfflineCacheDir:    "./.skillharness-cache",
	},
	Corpus: CorpusConfig{
		TasksDir:    "./tasks",
		FixturesDir: "./fixtures",
		SuitesDir:   "./suites",
		BaselineDir: "./baselines",
	},
	Docker: DockerConfig{
		// No implied image: container mode requires the operator to name one,
		// and an unset image keeps the default run mode local.
		AutoPull: true,
		CPULimit: 2,
		MemoryMB: 2048,
	},
	Compare: CompareConfig{
		RegressionThreshold: 0.10,
	},
}

// configPaths returns the list of paths to search for config files.
func configPaths() []string {
	paths := []string{"./skillharness.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".skillharness.toml"))
		paths = append(paths, filepath.Join(home, ".config", "skillharness", "config.toml"))
	}

	return paths
}

// Load loads configuration from a file or discovers it automatically.
// If configFile is empty, it searches standard locations.
// Returns default config if no file is found.
func Load(configFile string) (*Config, error) {
	cfg := Default // Start with defaults

	var path string
	if configFile != "" {
		path = configFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		return &cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Ensure critical fields aren't zeroed out by partial config
	if cfg.Harness.ResultsDir == "" {
		cfg.Harness.ResultsDir = Default.Harness.ResultsDir
	}
	if cfg.Harness.SandboxDir == "" {
		cfg.Harness.SandboxDir = Default.Harness.SandboxDir
	}
	if cfg.Harness.LedgerPath == "" {
		cfg.Harness.LedgerPath = Default.Harness.LedgerPath
	}
	if cfg.Harness.Concurrency <= 0 {
		cfg.Harness.Concurrency = Default.Harness.Concurrency
	}
	if cfg.Harness.DefaultTrials <= 0 {
		cfg.Harness.DefaultTrials = Default.Harness.DefaultTrials
	}
	if cfg.Harness.PerTrialTimeout <= 0 {
		cfg.Harness.PerTrialTimeout = Default.Harness.PerTrialTimeout
	}
	if cfg.Harness.PerGraderTimeout <= 0 {
		cfg.Harness.PerGraderTimeout = Default.Harness.PerGraderTimeout
	}
	if cfg.Harness.DependencyStrategy == "" {
		cfg.Harness.DependencyStrategy = Default.Harness.DependencyStrategy
	}
	if cfg.Corpus.TasksDir == "" {
		cfg.Corpus.TasksDir = Default.Corpus.TasksDir
	}
	if cfg.Corpus.FixturesDir == "" {
		cfg.Corpus.FixturesDir = Default.Corpus.FixturesDir
	}
	if cfg.Corpus.SuitesDir == "" {
		cfg.Corpus.SuitesDir = Default.Corpus.SuitesDir
	}
	if cfg.Corpus.BaselineDir == "" {
		cfg.Corpus.BaselineDir = Default.Corpus.BaselineDir
	}
	if cfg.Compare.RegressionThreshold <= 0 {
		cfg.Compare.RegressionThreshold = Default.Compare.RegressionThreshold
	}

	return &cfg, nil
}
