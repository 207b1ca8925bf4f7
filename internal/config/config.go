package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Scheduler contains the batch task scheduler knobs.
type Scheduler struct {
	MaxConcurrentTasks        int    `toml:"max_concurrent_tasks"`
	MaxConcurrentItemsPerTask int    `toml:"max_concurrent_items_per_task"`
	RetryAttempts             int    `toml:"retry_attempts"`
	RetryDelayMs              int    `toml:"retry_delay_ms"`
	RetryBackoff              string `toml:"retry_backoff"`
	MaxRetryDelayMs           int    `toml:"max_retry_delay_ms"`
	TaskTimeoutMs             int    `toml:"task_timeout_ms"`
	EnablePriority            bool   `toml:"enable_priority"`
	EnableProgressTracking    bool   `toml:"enable_progress_tracking"`
	RetentionSeconds          int    `toml:"retention_seconds"`
	CleanupIntervalSeconds    int    `toml:"cleanup_interval_seconds"`
}

// Workflow contains stage completion thresholds and batching for the exam workflow.
type Workflow struct {
	SkipReview            bool    `toml:"skip_review"`
	MinQualityScore       float64 `toml:"min_quality_score"`
	MinIdentityConfidence float64 `toml:"min_identity_confidence"`
	IngestBatchSize       int     `toml:"ingest_batch_size"`
	IngestPriority        int     `toml:"ingest_priority"`
	AnalysisPriority      int     `toml:"analysis_priority"`
}

// Simulation configures the stand-in processors used by `examflow run`.
type Simulation struct {
	MinDelayMs  int     `toml:"min_delay_ms"`
	MaxDelayMs  int     `toml:"max_delay_ms"`
	FailureRate float64 `toml:"failure_rate"`
	Seed        int64   `toml:"seed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains configuration for the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Config encapsulates all configuration values for examflow.
//
// Configuration sections by subsystem:
//   - Paths: data (SQLite store, lock file) and log directories
//   - Scheduler: concurrency, retry, timeout, priority and retention knobs
//   - Workflow: stage thresholds and task batching
//   - Simulation: delays and failure injection for the stand-in processors
//   - Logging: log format and level
//   - Metrics: Prometheus endpoint
type Config struct {
	Paths      Paths      `toml:"paths"`
	Scheduler  Scheduler  `toml:"scheduler"`
	Workflow   Workflow   `toml:"workflow"`
	Simulation Simulation `toml:"simulation"`
	Logging    Logging    `toml:"logging"`
	Metrics    Metrics    `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/examflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("examflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorePath returns the SQLite database location.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "examflow.db")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "examflow.lock")
}

// RetryDelay returns the base delay before a failed task is re-queued.
func (s Scheduler) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// MaxRetryDelay caps exponential backoff.
func (s Scheduler) MaxRetryDelay() time.Duration {
	return time.Duration(s.MaxRetryDelayMs) * time.Millisecond
}

// TaskTimeout returns the per-attempt deadline.
func (s Scheduler) TaskTimeout() time.Duration {
	return time.Duration(s.TaskTimeoutMs) * time.Millisecond
}

// Retention returns how long terminal tasks stay queryable in memory.
func (s Scheduler) Retention() time.Duration {
	return time.Duration(s.RetentionSeconds) * time.Second
}

// CleanupInterval returns how often terminal tasks are swept.
func (s Scheduler) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}
