// Package task models a scheduled vulnerability scan as it moves through the
// orchestration lifecycle, together with the persistence ports the
// orchestrator depends on.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/vulnscan-armada/pkg/common/timeutil"
)

// Task is the unit of orchestration. It is created PENDING when a scan is
// scheduled and is advanced by the orchestrator until it reaches DELETED.
type Task struct {
	id       int64
	taskUUID uuid.UUID

	// auditID and scanID are weak references; zero means the owner was removed.
	auditID int64
	scanID  int64
	target  string

	startAt   time.Time
	endAt     time.Time
	startedAt time.Time
	endedAt   time.Time

	errorReason     string
	session         Session
	progress        Progress
	slackWebhookURL string

	createdAt time.Time
	updatedAt time.Time
}

// NewTask creates a PENDING task for a scheduled scan window.
func NewTask(
	auditID, scanID int64,
	target string,
	startAt, endAt time.Time,
	slackWebhookURL string,
	now time.Time,
) *Task {
	return &Task{
		taskUUID:        uuid.New(),
		auditID:         auditID,
		scanID:          scanID,
		target:          target,
		startAt:         startAt,
		endAt:           endAt,
		startedAt:       timeutil.Unset,
		endedAt:         timeutil.Unset,
		progress:        ProgressPending,
		slackWebhookURL: slackWebhookURL,
		createdAt:       now,
		updatedAt:       now,
	}
}

// ReconstructTask creates a Task from persisted data.
// This should only be used by repositories when reconstructing from storage.
func ReconstructTask(
	id int64,
	taskUUID uuid.UUID,
	auditID, scanID int64,
	target string,
	startAt, endAt, startedAt, endedAt time.Time,
	errorReason string,
	session Session,
	progress Progress,
	slackWebhookURL string,
	createdAt, updatedAt time.Time,
) *Task {
	return &Task{
		id:              id,
		taskUUID:        taskUUID,
		auditID:         auditID,
		scanID:          scanID,
		target:          target,
		startAt:         startAt,
		endAt:           endAt,
		startedAt:       startedAt,
		endedAt:         endedAt,
		errorReason:     errorReason,
		session:         session,
		progress:        progress,
		slackWebhookURL: slackWebhookURL,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

// ID returns the repository-assigned identifier.
func (t *Task) ID() int64 { return t.id }

// UUID returns the immutable task identifier shared with the owning scan.
func (t *Task) UUID() uuid.UUID { return t.taskUUID }

func (t *Task) AuditID() int64          { return t.auditID }
func (t *Task) ScanID() int64           { return t.scanID }
func (t *Task) Target() string          { return t.target }
func (t *Task) StartAt() time.Time      { return t.startAt }
func (t *Task) EndAt() time.Time        { return t.endAt }
func (t *Task) StartedAt() time.Time    { return t.startedAt }
func (t *Task) EndedAt() time.Time      { return t.endedAt }
func (t *Task) ErrorReason() string     { return t.errorReason }
func (t *Task) Session() Session        { return t.session }
func (t *Task) Progress() Progress      { return t.progress }
func (t *Task) SlackWebhookURL() string { return t.slackWebhookURL }
func (t *Task) CreatedAt() time.Time    { return t.createdAt }
func (t *Task) UpdatedAt() time.Time    { return t.updatedAt }

// SetID records the identifier assigned on insert.
func (t *Task) SetID(id int64) { t.id = id }

// Transition moves the task to target, enforcing the lifecycle graph.
func (t *Task) Transition(target Progress) error {
	if err := t.progress.validateTransition(target); err != nil {
		return &InvalidTransitionError{taskUUID: t.taskUUID, from: t.progress, to: target}
	}
	t.progress = target
	return nil
}

// SetErrorReason records why the task left the happy path.
func (t *Task) SetErrorReason(reason string) { t.errorReason = reason }

// SetSession replaces the stored provider and engine state.
func (t *Task) SetSession(s Session) { t.session = s }

// MarkStarted records the actual scan start.
func (t *Task) MarkStarted(now time.Time) { t.startedAt = now }

// MarkEnded records the actual scan end.
func (t *Task) MarkEnded(now time.Time) { t.endedAt = now }

// Elapsed returns the actual scan duration, or zero when either bound is unset.
func (t *Task) Elapsed() time.Duration {
	if timeutil.IsUnset(t.startedAt) || timeutil.IsUnset(t.endedAt) {
		return 0
	}
	return t.endedAt.Sub(t.startedAt)
}

// RecordLaunchFailure increments the consecutive launch failure counter and
// returns the new count.
func (t *Task) RecordLaunchFailure() int {
	t.session.LaunchFailures++
	return t.session.LaunchFailures
}

// InvalidTransitionError is returned when a transition violates the lifecycle graph.
type InvalidTransitionError struct {
	taskUUID uuid.UUID
	from     Progress
	to       Progress
}

// Error returns a string representation of the error.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s cannot transition from %s to %s", e.taskUUID, e.from, e.to)
}

// From returns the progress the task was in.
func (e *InvalidTransitionError) From() Progress { return e.from }

// To returns the rejected target progress.
func (e *InvalidTransitionError) To() Progress { return e.to }
