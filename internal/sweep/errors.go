package sweep

import (
	"errors"
	"fmt"
)

// ErrInterrupted reports that a sweep was stopped by cancellation before the
// parameter table was exhausted. The store is left internally consistent and
// the sweep can be resumed.
var ErrInterrupted = errors.New("sweep interrupted")

// ConfigError is a fatal problem with the sweep configuration: an unknown
// model or sampler, invalid sampler parameters, or a missing section. It is
// reported before the sweep store is created.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid sweep configuration: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// InvariantError reports a condition that is impossible while the store and
// workers are healthy, such as completing a run that was never claimed or
// finding a working directory already present for a freshly claimed run. It
// indicates a logic bug or store corruption and is fatal to the worker that
// encounters it.
type InvariantError struct {
	RunID  int64
	Reason string
	Err    error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invariant violated for run %d: %s: %v", e.RunID, e.Reason, e.Err)
	}
	return fmt.Sprintf("invariant violated for run %d: %s", e.RunID, e.Reason)
}

func (e *InvariantError) Unwrap() error { return e.Err }

// RunError wraps a failure of the fit operation for a single run. It is
// recorded in the store as a failed run and never stops the pool.
type RunError struct {
	RunID int64
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %d failed: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
