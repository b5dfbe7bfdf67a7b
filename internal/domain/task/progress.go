package task

import (
	"errors"
	"fmt"
	"strings"
)

// Progress is the lifecycle state of a task.
type Progress string

// ErrProgressUnknown is returned when a progress value cannot be parsed.
var ErrProgressUnknown = errors.New("task progress unknown")

const (
	// ProgressPending indicates the task is waiting for its window, for
	// admission, or for its scanner deployment to become reachable.
	ProgressPending Progress = "PENDING"

	// ProgressRunning indicates the engine is executing the scan.
	ProgressRunning Progress = "RUNNING"

	// ProgressStopped indicates the engine finished and the report awaits ingestion.
	ProgressStopped Progress = "STOPPED"

	// ProgressFailed indicates the scan was abandoned and awaits cleanup.
	ProgressFailed Progress = "FAILED"

	// ProgressDeleted is terminal. Infrastructure has been released.
	ProgressDeleted Progress = "DELETED"
)

// Progresses lists every state in lifecycle order.
func Progresses() []Progress {
	return []Progress{ProgressPending, ProgressRunning, ProgressStopped, ProgressFailed, ProgressDeleted}
}

// String returns the string representation of the Progress.
func (p Progress) String() string { return string(p) }

// IsTerminal reports whether no further transitions are possible.
func (p Progress) IsTerminal() bool { return p == ProgressDeleted }

// ParseProgress converts a string to a Progress. Matching is case-insensitive
// so HTTP paths like /handlers/pending resolve.
func ParseProgress(s string) (Progress, error) {
	for _, p := range Progresses() {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrProgressUnknown, s)
}

// validateTransition checks if the progress can move to target.
func (p Progress) validateTransition(target Progress) error {
	if !p.isValidTransition(target) {
		return fmt.Errorf("invalid task progress transition from %s to %s", p, target)
	}
	return nil
}

// isValidTransition enforces the lifecycle graph. Every non-terminal state
// may move to DELETED because a cancelled scan expires its task from any state.
func (p Progress) isValidTransition(target Progress) bool {
	switch p {
	case ProgressPending:
		return target == ProgressRunning || target == ProgressFailed || target == ProgressDeleted
	case ProgressRunning:
		return target == ProgressStopped || target == ProgressFailed || target == ProgressDeleted
	case ProgressStopped:
		// A report that cannot be downloaded fails the task instead of completing it.
		return target == ProgressDeleted || target == ProgressFailed
	case ProgressFailed:
		return target == ProgressDeleted
	default:
		return false
	}
}
