package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/vulnscan-armada/internal/domain/task"
)

// EngineMetrics defines metrics operations needed by the Engine.
type EngineMetrics interface {
	ObserveCycle(ctx context.Context, p task.Progress, tasks int, duration time.Duration)
	IncTransitions(ctx context.Context, from, to task.Progress)
	IncAdmissionDenied(ctx context.Context)
	IncTaskErrors(ctx context.Context, p task.Progress)
	IncNotificationErrors(ctx context.Context)
	IncTeardownErrors(ctx context.Context)
}

type engineMetrics struct {
	cycles             metric.Int64Counter
	cycleDuration      metric.Float64Histogram
	cycleTasks         metric.Int64Histogram
	transitions        metric.Int64Counter
	admissionDenied    metric.Int64Counter
	taskErrors         metric.Int64Counter
	notificationErrors metric.Int64Counter
	teardownErrors     metric.Int64Counter
}

const namespace = "controller"

// NewEngineMetrics creates a new engine metrics instance.
func NewEngineMetrics(mp metric.MeterProvider) (*engineMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(engineMetrics)
	var err error

	if m.cycles, err = meter.Int64Counter(
		"task_cycles_total",
		metric.WithDescription("Total number of state handler cycles run"),
	); err != nil {
		return nil, err
	}

	if m.cycleDuration, err = meter.Float64Histogram(
		"task_cycle_duration_seconds",
		metric.WithDescription("Time taken to process one state queue"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.cycleTasks, err = meter.Int64Histogram(
		"task_cycle_queue_size",
		metric.WithDescription("Number of tasks fetched per cycle"),
	); err != nil {
		return nil, err
	}

	if m.transitions, err = meter.Int64Counter(
		"task_transitions_total",
		metric.WithDescription("Total number of task state transitions"),
	); err != nil {
		return nil, err
	}

	if m.admissionDenied, err = meter.Int64Counter(
		"task_admission_denied_total",
		metric.WithDescription("Total number of cycles stopped by the parallel session cap"),
	); err != nil {
		return nil, err
	}

	if m.taskErrors, err = meter.Int64Counter(
		"task_errors_total",
		metric.WithDescription("Total number of per-task processing errors"),
	); err != nil {
		return nil, err
	}

	if m.notificationErrors, err = meter.Int64Counter(
		"task_notification_errors_total",
		metric.WithDescription("Total number of failed notifications"),
	); err != nil {
		return nil, err
	}

	if m.teardownErrors, err = meter.Int64Counter(
		"task_teardown_errors_total",
		metric.WithDescription("Total number of failed infrastructure teardowns"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) ObserveCycle(ctx context.Context, p task.Progress, tasks int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("progress", p.String()))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, duration.Seconds(), attrs)
	m.cycleTasks.Record(ctx, int64(tasks), attrs)
}

func (m *engineMetrics) IncTransitions(ctx context.Context, from, to task.Progress) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (m *engineMetrics) IncAdmissionDenied(ctx context.Context) { m.admissionDenied.Add(ctx, 1) }

func (m *engineMetrics) IncTaskErrors(ctx context.Context, p task.Progress) {
	m.taskErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("progress", p.String())))
}

func (m *engineMetrics) IncNotificationErrors(ctx context.Context) { m.notificationErrors.Add(ctx, 1) }
func (m *engineMetrics) IncTeardownErrors(ctx context.Context)     { m.teardownErrors.Add(ctx, 1) }
