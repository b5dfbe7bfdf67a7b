// Package scheduling turns scan schedule requests into PENDING tasks and
// cancels them again.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
	"github.com/ahrav/vulnscan-armada/pkg/common/timeutil"
)

var (
	// ErrInvalidWindow is returned when a schedule window fails validation.
	ErrInvalidWindow = errors.New("invalid schedule window")
	// ErrNotScheduled is returned when cancelling a scan without a schedule.
	ErrNotScheduled = errors.New("scan is not scheduled")
)

// Config bounds acceptable schedule windows.
type Config struct {
	// MinDuration is the shortest allowed window.
	MinDuration time.Duration
	// MaxLeadTime limits how far in the future a window may start.
	MaxLeadTime time.Duration
}

// DefaultConfig returns the window limits.
func DefaultConfig() Config {
	return Config{MinDuration: time.Hour, MaxLeadTime: 10 * 24 * time.Hour}
}

// Service schedules and cancels scans.
type Service struct {
	repo  task.ScheduleRepository
	cfg   Config
	clock timeutil.Provider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a Service.
func NewService(
	repo task.ScheduleRepository,
	cfg Config,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("component", "scheduling_service"),
		tracer: tracer,
	}
}

// Schedule creates a PENDING task for the scan and links the scan to it.
// The returned uuid identifies the new task.
func (s *Service) Schedule(
	ctx context.Context,
	scanUUID uuid.UUID,
	startAt, endAt time.Time,
	webhookURL string,
) (uuid.UUID, error) {
	logger := s.logger.With("operation", "schedule", "scan_uuid", scanUUID.String())
	ctx, span := s.tracer.Start(ctx, "scheduling_service.schedule",
		trace.WithAttributes(
			attribute.String("scan_uuid", scanUUID.String()),
			attribute.String("start_at", startAt.String()),
			attribute.String("end_at", endAt.String()),
		))
	defer span.End()

	now := s.clock.Now()
	if err := s.validateWindow(startAt.UTC(), endAt.UTC(), now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return uuid.Nil, err
	}

	scan, err := s.repo.FindScan(ctx, scanUUID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load scan")
		return uuid.Nil, fmt.Errorf("load scan %s: %w", scanUUID, err)
	}
	if scan.Scheduled {
		span.SetStatus(codes.Error, "scan already scheduled")
		return uuid.Nil, task.ErrScanAlreadyScheduled
	}

	t := task.NewTask(scan.AuditID, scan.ID, scan.Target, startAt.UTC(), endAt.UTC(), webhookURL, now)
	if err := s.repo.Schedule(ctx, scanUUID, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to schedule scan")
		return uuid.Nil, fmt.Errorf("schedule scan %s: %w", scanUUID, err)
	}

	span.SetAttributes(attribute.String("task_uuid", t.UUID().String()))
	logger.Info(ctx, "Scan scheduled", "task_uuid", t.UUID().String(), "target", scan.Target)
	return t.UUID(), nil
}

// Cancel detaches the scan from its task. The orchestrator notices the
// expired task on its next cycle and tears it down.
func (s *Service) Cancel(ctx context.Context, scanUUID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "scheduling_service.cancel",
		trace.WithAttributes(attribute.String("scan_uuid", scanUUID.String())))
	defer span.End()

	scan, err := s.repo.FindScan(ctx, scanUUID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load scan")
		return fmt.Errorf("load scan %s: %w", scanUUID, err)
	}
	if !scan.Scheduled {
		return ErrNotScheduled
	}

	if err := s.repo.Unschedule(ctx, scanUUID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cancel schedule")
		return fmt.Errorf("cancel scan %s: %w", scanUUID, err)
	}

	s.logger.Info(ctx, "Scan schedule cancelled", "scan_uuid", scanUUID.String(), "task_uuid", scan.TaskUUID.String())
	return nil
}

func (s *Service) validateWindow(startAt, endAt, now time.Time) error {
	switch {
	case !endAt.After(now):
		return fmt.Errorf("%w: end_at has elapsed", ErrInvalidWindow)
	case !endAt.After(startAt):
		return fmt.Errorf("%w: end_at is equal or earlier than start_at", ErrInvalidWindow)
	case s.cfg.MaxLeadTime > 0 && startAt.Sub(now) > s.cfg.MaxLeadTime:
		return fmt.Errorf("%w: start_at must be within %s from now", ErrInvalidWindow, s.cfg.MaxLeadTime)
	case endAt.Sub(startAt) < s.cfg.MinDuration:
		return fmt.Errorf("%w: window must last at least %s", ErrInvalidWindow, s.cfg.MinDuration)
	}
	return nil
}
