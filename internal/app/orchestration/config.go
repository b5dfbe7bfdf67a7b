package orchestration

import (
	"fmt"
	"time"
)

// Config tunes admission and timeout policy of the Engine.
type Config struct {
	// MaxParallelSessions caps the number of RUNNING tasks.
	MaxParallelSessions int
	// MinRemainingWindow is the least time that must remain before end_at for
	// a PENDING task to be launched.
	MinRemainingWindow time.Duration
	// MaxScanDuration bounds how long a task may stay RUNNING.
	MaxScanDuration time.Duration
	// MaxLaunchFailures fails a PENDING task after this many consecutive
	// launch errors. Zero retries forever.
	MaxLaunchFailures int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelSessions: 1,
		MinRemainingWindow:  time.Hour,
		MaxScanDuration:     24 * time.Hour,
		MaxLaunchFailures:   60,
	}
}

// Validate reports configuration the engine cannot run with.
func (c Config) Validate() error {
	if c.MaxParallelSessions < 1 {
		return fmt.Errorf("max parallel sessions must be at least 1, got %d", c.MaxParallelSessions)
	}
	if c.MinRemainingWindow < 0 {
		return fmt.Errorf("min remaining window must not be negative, got %s", c.MinRemainingWindow)
	}
	if c.MaxScanDuration <= 0 {
		return fmt.Errorf("max scan duration must be positive, got %s", c.MaxScanDuration)
	}
	if c.MaxLaunchFailures < 0 {
		return fmt.Errorf("max launch failures must not be negative, got %d", c.MaxLaunchFailures)
	}
	return nil
}
