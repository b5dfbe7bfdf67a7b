// Package orchestration drives scan tasks through their lifecycle. Each call
// to Engine.Handle processes the full queue of one state, oldest update
// first, applying that state's transition rules and the shared side effects
// of every transition: transactional persistence, then notification and
// infrastructure teardown.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	"github.com/ahrav/vulnscan-armada/internal/domain/engine"
	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/domain/notification"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
	"github.com/ahrav/vulnscan-armada/pkg/common/timeutil"
)

// step is what a state handler decided for one task.
type step struct {
	// next is the progress to move to; empty keeps the current one.
	next task.Progress
	// halt stops processing the remaining tasks of the cycle.
	halt bool
	// persist writes the task even when it does not transition.
	persist bool
	// keepPosition persists without moving the task to the back of its queue.
	keepPosition bool

	scanStartedAt time.Time
	scanEndedAt   time.Time
	resetSchedule bool
	report        *finding.Report
	summary       finding.Summary
}

type stateHandler func(ctx context.Context, t *task.Task) (step, error)

// Engine is the task orchestration engine.
type Engine struct {
	cfg Config

	tasks      task.Repository
	classifier finding.Classifier
	provider   deployment.Provider
	scanner    engine.Client
	reports    finding.ReportStore
	notifier   notification.Notifier
	clock      timeutil.Provider

	handlers map[task.Progress]stateHandler

	logger  *logger.Logger
	metrics EngineMetrics
	tracer  trace.Tracer
}

// NewEngine creates an Engine. The provider is fixed for the engine's lifetime.
func NewEngine(
	cfg Config,
	tasks task.Repository,
	classifier finding.Classifier,
	provider deployment.Provider,
	scanner engine.Client,
	reports finding.ReportStore,
	notifier notification.Notifier,
	clock timeutil.Provider,
	logger *logger.Logger,
	metrics EngineMetrics,
	tracer trace.Tracer,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		tasks:      tasks,
		classifier: classifier,
		provider:   provider,
		scanner:    scanner,
		reports:    reports,
		notifier:   notifier,
		clock:      clock,
		logger:     logger.With("component", "engine"),
		metrics:    metrics,
		tracer:     tracer,
	}
	e.handlers = map[task.Progress]stateHandler{
		task.ProgressPending: e.handlePending,
		task.ProgressRunning: e.handleRunning,
		task.ProgressStopped: e.handleStopped,
		task.ProgressFailed:  e.handleFailed,
		task.ProgressDeleted: e.handleDeleted,
	}
	return e, nil
}

// Handle runs one cycle for the queue of p. It returns false only when the
// queue itself could not be read; failures of individual tasks are logged and
// the cycle moves on to the next task.
func (e *Engine) Handle(ctx context.Context, p task.Progress) bool {
	ctx, span := e.tracer.Start(ctx, "engine.handle",
		trace.WithAttributes(attribute.String("progress", p.String())))
	defer span.End()

	logr := e.logger.With("operation", "handle", "progress", p.String())

	handler, ok := e.handlers[p]
	if !ok {
		span.SetStatus(codes.Error, "unknown progress")
		logr.Error(ctx, "No handler registered for progress")
		return false
	}

	// DELETED is terminal; its queue is never worked.
	if p == task.ProgressDeleted {
		return true
	}

	start := time.Now()
	tasks, err := e.tasks.ListByProgress(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tasks")
		logr.Error(ctx, "Failed to list tasks", "error", err)
		return false
	}
	span.SetAttributes(attribute.Int("queue_size", len(tasks)))

	for _, t := range tasks {
		if ctx.Err() != nil {
			logr.Warn(ctx, "Cycle interrupted", "error", ctx.Err())
			break
		}

		proceed, err := e.process(ctx, p, handler, t)
		if err != nil {
			e.metrics.IncTaskErrors(ctx, p)
			logr.Error(ctx, "Failed to process task",
				"task_uuid", t.UUID().String(),
				"error", err,
			)
			continue
		}
		if !proceed {
			break
		}
	}

	e.metrics.ObserveCycle(ctx, p, len(tasks), time.Since(start))
	span.AddEvent("cycle_completed")
	return true
}

// HandlePending runs a PENDING cycle.
func (e *Engine) HandlePending(ctx context.Context) bool { return e.Handle(ctx, task.ProgressPending) }

// HandleRunning runs a RUNNING cycle.
func (e *Engine) HandleRunning(ctx context.Context) bool { return e.Handle(ctx, task.ProgressRunning) }

// HandleStopped runs a STOPPED cycle.
func (e *Engine) HandleStopped(ctx context.Context) bool { return e.Handle(ctx, task.ProgressStopped) }

// HandleFailed runs a FAILED cycle.
func (e *Engine) HandleFailed(ctx context.Context) bool { return e.Handle(ctx, task.ProgressFailed) }

// HandleDeleted runs a DELETED cycle, which never does any work.
func (e *Engine) HandleDeleted(ctx context.Context) bool { return e.Handle(ctx, task.ProgressDeleted) }

// process applies the expiry check and then the state handler to t. The
// returned bool is false when the cycle must stop.
func (e *Engine) process(ctx context.Context, p task.Progress, handler stateHandler, t *task.Task) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "engine.process_task",
		trace.WithAttributes(
			attribute.String("task_uuid", t.UUID().String()),
			attribute.String("progress", p.String()),
		))
	defer span.End()

	linked, err := e.tasks.IsLinked(ctx, t.UUID())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "expiry check failed")
		return true, fmt.Errorf("check task expiry: %w", err)
	}
	if !linked {
		span.AddEvent("task_expired")
		e.logger.Info(ctx, "Deleting task due to cancellation", "task_uuid", t.UUID().String())
		t.SetErrorReason(task.ReasonCancelledByUser)
		if err := e.advance(ctx, t, step{next: task.ProgressDeleted}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "expiry transition failed")
			return true, err
		}
		return true, nil
	}

	st, err := handler(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		return true, err
	}
	if st.halt {
		span.AddEvent("cycle_halted")
		return false, nil
	}
	if st.next == "" && !st.persist {
		return true, nil
	}

	if err := e.advance(ctx, t, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return true, err
	}
	return true, nil
}

// advance persists t atomically and then applies the side effects of a
// transition: notify, and release infrastructure when entering DELETED. A
// failed persist leaves the task, its infrastructure and its audience as they
// were, so the next cycle can retry the transition.
func (e *Engine) advance(ctx context.Context, t *task.Task, st step) error {
	from := t.Progress()
	transitioned := st.next != "" && st.next != from
	if transitioned {
		if err := t.Transition(st.next); err != nil {
			return err
		}
	}

	cs := task.Changeset{
		Task:          t,
		ScanStartedAt: st.scanStartedAt,
		ScanEndedAt:   st.scanEndedAt,
		ResetSchedule: st.resetSchedule,
		Report:        st.report,
		KeepPosition:  st.keepPosition && !transitioned,
	}
	if err := e.tasks.Apply(ctx, cs); err != nil {
		return fmt.Errorf("persist task %s: %w", t.UUID(), err)
	}

	if !transitioned {
		return nil
	}

	e.metrics.IncTransitions(ctx, from, st.next)
	e.logger.Info(ctx, "Task transitioned",
		"task_uuid", t.UUID().String(),
		"from", from.String(),
		"to", st.next.String(),
		"error_reason", t.ErrorReason(),
	)

	e.notify(ctx, t, from, st)
	if st.next == task.ProgressDeleted {
		e.teardown(ctx, t)
	}
	return nil
}

// notify sends the transition message, if any. Failures never propagate.
func (e *Engine) notify(ctx context.Context, t *task.Task, from task.Progress, st step) {
	msg, ok := buildMessage(t, from, st.summary, e.clock.Now())
	if !ok {
		return
	}

	msg.Destination = t.SlackWebhookURL()
	if msg.Destination == "" && t.AuditID() != 0 {
		url, err := e.tasks.AuditWebhookURL(ctx, t.AuditID())
		if err != nil {
			e.logger.Warn(ctx, "Failed to resolve audit webhook", "audit_id", t.AuditID(), "error", err)
		}
		msg.Destination = url
	}

	if err := e.notifier.Send(ctx, msg); err != nil {
		e.metrics.IncNotificationErrors(ctx)
		e.logger.Warn(ctx, "Failed to send notification",
			"task_uuid", t.UUID().String(),
			"error", err,
		)
	}
}

// teardown releases engine-side state and the deployment of t. Errors are
// logged only; the task is deleted regardless.
func (e *Engine) teardown(ctx context.Context, t *task.Task) {
	sess := t.Session()
	if sess.IsZero() {
		return
	}

	ctx, span := e.tracer.Start(ctx, "engine.teardown",
		trace.WithAttributes(
			attribute.String("task_uuid", t.UUID().String()),
			attribute.String("deployment_id", sess.DeploymentID()),
		))
	defer span.End()

	if ep, ok := sess.Endpoint(); ok {
		if h, ok := sess.Handles(); ok {
			if err := e.scanner.Delete(ctx, ep, h); err != nil {
				e.metrics.IncTeardownErrors(ctx)
				span.RecordError(err)
				e.logger.Warn(ctx, "Failed to delete engine scan",
					"task_uuid", t.UUID().String(),
					"error", err,
				)
			}
		}
	}

	if id := sess.DeploymentID(); id != "" {
		if err := e.provider.Delete(ctx, id); err != nil {
			e.metrics.IncTeardownErrors(ctx)
			span.RecordError(err)
			e.logger.Warn(ctx, "Failed to delete deployment",
				"task_uuid", t.UUID().String(),
				"deployment_id", id,
				"error", err,
			)
			return
		}
		e.logger.Info(ctx, "Scan deployment deleted", "task_uuid", t.UUID().String(), "deployment_id", id)
	}
}
