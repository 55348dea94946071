package reportflow

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("reportflow: no store configured")
	ErrStoreClosed     = errors.New("reportflow: store closed")
	ErrMigrationFailed = errors.New("reportflow: migration failed")

	// Not found errors.
	ErrTemplateNotFound = errors.New("reportflow: template not found")
	ErrScheduleNotFound = errors.New("reportflow: schedule not found")
	ErrRunNotFound      = errors.New("reportflow: run not found")
	ErrJobNotFound      = errors.New("reportflow: job not found")
	ErrDLQNotFound      = errors.New("reportflow: dlq entry not found")

	// Conflict errors.
	ErrTemplateExists = errors.New("reportflow: template code already exists")
	ErrTemplateInUse  = errors.New("reportflow: template is referenced by schedules")
	ErrRunExists      = errors.New("reportflow: run already exists")
	ErrJobExists      = errors.New("reportflow: job already exists")

	// State errors.
	ErrInvalidTransition  = errors.New("reportflow: invalid run state transition")
	ErrRunRunning         = errors.New("reportflow: run is running")
	ErrRunNotFailed       = errors.New("reportflow: only failed runs can be retried")
	ErrScheduleNotActive  = errors.New("reportflow: schedule is not active")
	ErrTemplateNotActive  = errors.New("reportflow: template is not active")
	ErrMaxRetriesExceeded = errors.New("reportflow: max retries exceeded")
	ErrDLQReplayed        = errors.New("reportflow: dlq entry already replayed")

	// Admission errors.
	ErrRateLimitExceeded        = errors.New("reportflow: manual run rate limit exceeded")
	ErrConcurrencyLimitExceeded = errors.New("reportflow: active run limit exceeded")

	// Configuration and execution errors.
	ErrConfiguration = errors.New("reportflow: configuration error")
	ErrExecutorCrash = errors.New("reportflow: executor crashed")
)

// Error codes persisted on failed runs.
const (
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodeExecution     = "EXECUTION_ERROR"
	CodeCrash         = "EXECUTOR_CRASH"
	CodeStuckTimeout  = "STUCK_TIMEOUT"
	CodeEnqueueFailed = "ENQUEUE_FAILED"
)

// ConfigurationError reports a malformed cadence, template, section or
// schedule. It matches ErrConfiguration under errors.Is.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "reportflow: configuration error: " + e.Reason
	}
	return "reportflow: configuration error: " + e.Field + ": " + e.Reason
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// SectionError is a contained failure of a single report section. It
// degrades the section's summary and never fails the run.
type SectionError struct {
	Section string
	Err     error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("reportflow: section %q: %v", e.Section, e.Err)
}

func (e *SectionError) Unwrap() error { return e.Err }

// ErrorCode maps err to the code persisted on a failed run.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrExecutorCrash):
		return CodeCrash
	default:
		return CodeExecution
	}
}
