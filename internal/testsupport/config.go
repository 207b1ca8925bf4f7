package testsupport

import (
	"path/filepath"
	"testing"

	"examflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Simulated processors run without delays or injected failures unless an
// option says otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Simulation.MinDelayMs = 0
	cfgVal.Simulation.MaxDelayMs = 0
	cfgVal.Simulation.FailureRate = 0
	cfgVal.Simulation.Seed = 1
	cfgVal.Scheduler.RetryDelayMs = 1
	cfgVal.Scheduler.MaxRetryDelayMs = 10
	cfgVal.Metrics.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithFailureRate sets the simulated per-attempt failure probability.
func WithFailureRate(rate float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Simulation.FailureRate = rate
	}
}

// WithSkipReview toggles the optional review stage.
func WithSkipReview(skip bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.SkipReview = skip
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
