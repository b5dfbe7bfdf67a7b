package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
)

// ErrTaskNotFound is returned when a task referenced by uuid does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrScanNotFound is returned when a scan referenced by uuid does not exist.
var ErrScanNotFound = errors.New("scan not found")

// ErrScanAlreadyScheduled is returned when scheduling a scan that already owns a task.
var ErrScanAlreadyScheduled = errors.New("scan already scheduled")

// Changeset is everything persisted for a single task step. Repositories
// apply it atomically so readers never observe a task whose scan or result
// side effects are partially written.
type Changeset struct {
	Task *Task

	// ScanStartedAt and ScanEndedAt, when non-zero, are copied to the owning scan.
	ScanStartedAt time.Time
	ScanEndedAt   time.Time

	// ResetSchedule detaches the owning scan from the task, marks it processed
	// and copies the task's error reason onto it.
	ResetSchedule bool

	// Report, when set, is ingested for the task's scan: catalog entries are
	// inserted if absent and the scan's results are replaced.
	Report *finding.Report

	// KeepPosition writes the task without refreshing its updated_at, so it
	// keeps its place in ListByProgress order.
	KeepPosition bool
}

// Repository persists tasks and the scan-side effects of their transitions.
type Repository interface {
	// ListByProgress returns every task in p ordered by ascending updated_at.
	ListByProgress(ctx context.Context, p Progress) ([]*Task, error)
	// CountByProgress returns the number of tasks in p.
	CountByProgress(ctx context.Context, p Progress) (int, error)
	// IsLinked reports whether any scan still references the task uuid.
	IsLinked(ctx context.Context, taskUUID uuid.UUID) (bool, error)
	// AuditWebhookURL returns the audit's default notification destination.
	AuditWebhookURL(ctx context.Context, auditID int64) (string, error)
	// Apply persists cs in a single transaction.
	Apply(ctx context.Context, cs Changeset) error
}

// ScanRef is the subset of a scan needed to schedule it.
type ScanRef struct {
	ID        int64
	UUID      uuid.UUID
	AuditID   int64
	Target    string
	Scheduled bool
	TaskUUID  uuid.UUID
}

// ScheduleRepository links scans to tasks.
type ScheduleRepository interface {
	// FindScan loads a scan by uuid, returning ErrScanNotFound when absent.
	FindScan(ctx context.Context, scanUUID uuid.UUID) (ScanRef, error)
	// Schedule inserts t and links the scan identified by scanUUID to it in
	// one transaction. ErrScanAlreadyScheduled is returned when the scan is
	// owned by another task.
	Schedule(ctx context.Context, scanUUID uuid.UUID, t *Task) error
	// Unschedule detaches a scan from its task, which expires the task.
	Unschedule(ctx context.Context, scanUUID uuid.UUID) error
}
