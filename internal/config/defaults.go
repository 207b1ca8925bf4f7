package config

const (
	defaultDataDir                   = "~/.local/share/examflow"
	defaultLogDir                    = "~/.local/share/examflow/logs"
	defaultMaxConcurrentTasks        = 3
	defaultMaxConcurrentItemsPerTask = 5
	defaultRetryAttempts             = 3
	defaultRetryDelayMs              = 1000
	defaultRetryBackoff              = BackoffExponential
	defaultMaxRetryDelayMs           = 30000
	defaultTaskTimeoutMs             = 300000
	defaultRetentionSeconds          = 3600
	defaultCleanupIntervalSeconds    = 60
	defaultMinQualityScore           = 0.6
	defaultMinIdentityConfidence     = 0.8
	defaultIngestBatchSize           = 10
	defaultIngestPriority            = 10
	defaultAnalysisPriority          = 5
	defaultSimMinDelayMs             = 20
	defaultSimMaxDelayMs             = 120
	defaultSimFailureRate            = 0.05
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultMetricsBind               = "127.0.0.1:9464"
)

// Retry backoff strategies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Scheduler: Scheduler{
			MaxConcurrentTasks:        defaultMaxConcurrentTasks,
			MaxConcurrentItemsPerTask: defaultMaxConcurrentItemsPerTask,
			RetryAttempts:             defaultRetryAttempts,
			RetryDelayMs:              defaultRetryDelayMs,
			RetryBackoff:              defaultRetryBackoff,
			MaxRetryDelayMs:           defaultMaxRetryDelayMs,
			TaskTimeoutMs:             defaultTaskTimeoutMs,
			EnablePriority:            true,
			EnableProgressTracking:    true,
			RetentionSeconds:          defaultRetentionSeconds,
			CleanupIntervalSeconds:    defaultCleanupIntervalSeconds,
		},
		Workflow: Workflow{
			MinQualityScore:       defaultMinQualityScore,
			MinIdentityConfidence: defaultMinIdentityConfidence,
			IngestBatchSize:       defaultIngestBatchSize,
			IngestPriority:        defaultIngestPriority,
			AnalysisPriority:      defaultAnalysisPriority,
		},
		Simulation: Simulation{
			MinDelayMs:  defaultSimMinDelayMs,
			MaxDelayMs:  defaultSimMaxDelayMs,
			FailureRate: defaultSimFailureRate,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
	}
}
