package scheduler

import (
	"time"

	"examflow/internal/config"
)

// Options control dispatch, retry and retention behaviour.
type Options struct {
	MaxConcurrent   int
	RetryAttempts   int
	RetryDelay      time.Duration
	RetryBackoff    string
	MaxRetryDelay   time.Duration
	TaskTimeout     time.Duration
	EnablePriority  bool
	EnableProgress  bool
	Retention       time.Duration
	CleanupInterval time.Duration
}

// OptionsFromConfig maps the scheduler config section onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	s := cfg.Scheduler
	return Options{
		MaxConcurrent:   s.MaxConcurrentTasks,
		RetryAttempts:   s.RetryAttempts,
		RetryDelay:      s.RetryDelay(),
		RetryBackoff:    s.RetryBackoff,
		MaxRetryDelay:   s.MaxRetryDelay(),
		TaskTimeout:     s.TaskTimeout(),
		EnablePriority:  s.EnablePriority,
		EnableProgress:  s.EnableProgressTracking,
		Retention:       s.Retention(),
		CleanupInterval: s.CleanupInterval(),
	}
}

// DefaultOptions returns the options implied by the default config.
func DefaultOptions() Options {
	cfg := config.Default()
	return OptionsFromConfig(&cfg)
}

func (o Options) normalized() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 1
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = time.Minute
	}
	return o
}

// retryDelay returns the wait before retry number n (1-based).
func (o Options) retryDelay(n int) time.Duration {
	delay := o.RetryDelay
	if o.RetryBackoff != config.BackoffExponential || delay <= 0 {
		return delay
	}
	for i := 1; i < n; i++ {
		delay *= 2
		if o.MaxRetryDelay > 0 && delay >= o.MaxRetryDelay {
			return o.MaxRetryDelay
		}
	}
	if o.MaxRetryDelay > 0 && delay > o.MaxRetryDelay {
		return o.MaxRetryDelay
	}
	return delay
}
