package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateSimulation(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateScheduler() error {
	s := c.Scheduler
	if s.MaxConcurrentTasks <= 0 {
		return errors.New("scheduler.max_concurrent_tasks must be positive")
	}
	if s.MaxConcurrentItemsPerTask <= 0 {
		return errors.New("scheduler.max_concurrent_items_per_task must be positive")
	}
	if s.RetryAttempts < 0 {
		return errors.New("scheduler.retry_attempts must be >= 0")
	}
	if s.RetryDelayMs < 0 {
		return errors.New("scheduler.retry_delay_ms must be >= 0")
	}
	switch s.RetryBackoff {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("scheduler.retry_backoff: unsupported value %q (want %q or %q)", s.RetryBackoff, BackoffFixed, BackoffExponential)
	}
	if s.RetryBackoff == BackoffExponential && s.MaxRetryDelayMs < s.RetryDelayMs {
		return errors.New("scheduler.max_retry_delay_ms must be >= retry_delay_ms")
	}
	if s.TaskTimeoutMs <= 0 {
		return errors.New("scheduler.task_timeout_ms must be positive")
	}
	if s.RetentionSeconds <= 0 {
		return errors.New("scheduler.retention_seconds must be positive")
	}
	if s.CleanupIntervalSeconds <= 0 {
		return errors.New("scheduler.cleanup_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.MinQualityScore < 0 || w.MinQualityScore > 1 {
		return errors.New("workflow.min_quality_score must be between 0 and 1")
	}
	if w.MinIdentityConfidence < 0 || w.MinIdentityConfidence > 1 {
		return errors.New("workflow.min_identity_confidence must be between 0 and 1")
	}
	if w.IngestBatchSize <= 0 {
		return errors.New("workflow.ingest_batch_size must be positive")
	}
	return nil
}

func (c *Config) validateSimulation() error {
	s := c.Simulation
	if s.MinDelayMs < 0 || s.MaxDelayMs < 0 {
		return errors.New("simulation delays must be >= 0")
	}
	if s.MaxDelayMs < s.MinDelayMs {
		return errors.New("simulation.max_delay_ms must be >= min_delay_ms")
	}
	if s.FailureRate < 0 || s.FailureRate > 1 {
		return errors.New("simulation.failure_rate must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
