package reportflow

import "time"

// Config holds configuration for the Reporter and the engine it wires.
type Config struct {
	// Env is the deployment environment used in lock keys and channels
	// (development, test, production or their short forms).
	Env string

	// Queue is the work queue report jobs are enqueued on.
	Queue string

	// DefaultTimezone applies to schedules and templates without one.
	DefaultTimezone string

	// DefaultFormats applies to schedules that name no output format.
	DefaultFormats []Format

	// Concurrency is the maximum number of report jobs executed at once.
	Concurrency int

	// JobsPerWindow and RateWindow form the worker rate ceiling.
	JobsPerWindow int
	RateWindow    time.Duration

	// MaxAttempts is the queue-level attempt ceiling before dead-lettering.
	MaxAttempts int

	// BackoffInitial is the first retry delay; later delays double.
	BackoffInitial time.Duration

	// PollInterval is how often the scheduler poller ticks.
	PollInterval time.Duration

	// WorkerPollInterval is how often idle workers look for jobs.
	WorkerPollInterval time.Duration

	PollerLockTTL   time.Duration
	ScheduleLockTTL time.Duration
	RunLockTTL      time.Duration

	// ManualRateLimit manual/API runs are admitted per tenant per
	// ManualRateWindow.
	ManualRateLimit  int
	ManualRateWindow time.Duration

	// MaxActiveRuns caps queued+running runs per tenant.
	MaxActiveRuns int

	// SweepInterval and MaxRunDuration drive the stuck-run sweep.
	SweepInterval  time.Duration
	MaxRunDuration time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// handed back to the queue.
	StaleJobThreshold time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with the production defaults.
func DefaultConfig() Config {
	return Config{
		Env:                "development",
		Queue:              "reports",
		DefaultTimezone:    "Asia/Kolkata",
		DefaultFormats:     []Format{FormatPDF},
		Concurrency:        5,
		JobsPerWindow:      10,
		RateWindow:         time.Minute,
		MaxAttempts:        3,
		BackoffInitial:     5 * time.Second,
		PollInterval:       60 * time.Second,
		WorkerPollInterval: time.Second,
		PollerLockTTL:      60 * time.Second,
		ScheduleLockTTL:    300 * time.Second,
		RunLockTTL:         600 * time.Second,
		ManualRateLimit:    50,
		ManualRateWindow:   time.Hour,
		MaxActiveRuns:      10,
		SweepInterval:      5 * time.Minute,
		MaxRunDuration:     30 * time.Minute,
		HeartbeatInterval:  10 * time.Second,
		StaleJobThreshold:  2 * time.Minute,
		ShutdownTimeout:    30 * time.Second,
	}
}

// Validate checks the relationships between durations and limits.
func (c Config) Validate() error {
	if err := ValidateFormats(c.DefaultFormats); err != nil {
		return err
	}
	switch {
	case c.Queue == "":
		return Configf("queue", "must not be empty")
	case c.Concurrency < 1:
		return Configf("concurrency", "must be at least 1, got %d", c.Concurrency)
	case c.MaxAttempts < 1:
		return Configf("maxAttempts", "must be at least 1, got %d", c.MaxAttempts)
	case c.JobsPerWindow < 1 || c.RateWindow <= 0:
		return Configf("jobsPerWindow", "rate ceiling must be positive")
	case c.PollInterval <= 0:
		return Configf("pollInterval", "must be positive")
	case c.PollerLockTTL < c.PollInterval:
		return Configf("pollerLockTTL", "%s is shorter than the poll interval %s", c.PollerLockTTL, c.PollInterval)
	case c.RunLockTTL <= 0 || c.ScheduleLockTTL <= 0:
		return Configf("runLockTTL", "lock TTLs must be positive")
	case c.MaxRunDuration < c.RunLockTTL:
		return Configf("maxRunDuration", "%s is shorter than the run lock TTL %s", c.MaxRunDuration, c.RunLockTTL)
	case c.ManualRateLimit < 1 || c.ManualRateWindow <= 0:
		return Configf("manualRateLimit", "must be positive")
	case c.MaxActiveRuns < 1:
		return Configf("maxActiveRuns", "must be at least 1, got %d", c.MaxActiveRuns)
	}
	return nil
}
