package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/engine"
	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
)

func (e *Engine) handlePending(ctx context.Context, t *task.Task) (step, error) {
	span := trace.SpanFromContext(ctx)

	running, err := e.tasks.CountByProgress(ctx, task.ProgressRunning)
	if err != nil {
		return step{}, fmt.Errorf("count running tasks: %w", err)
	}
	if running >= e.cfg.MaxParallelSessions {
		e.metrics.IncAdmissionDenied(ctx)
		e.logger.Info(ctx, "Abandoned to launch scan, parallel session cap reached",
			"running", running,
			"max_parallel_sessions", e.cfg.MaxParallelSessions,
		)
		return step{halt: true}, nil
	}

	now := e.clock.Now()
	if t.StartAt().After(now) {
		return step{}, nil
	}

	if t.EndAt().Before(now.Add(e.cfg.MinRemainingWindow)) {
		t.SetErrorReason(task.ReasonWindowTooShort)
		e.logger.Warn(ctx, "Abandoned to launch scan, window closing",
			"task_uuid", t.UUID().String(),
			"end_at", t.EndAt(),
		)
		return step{next: task.ProgressFailed}, nil
	}

	sess := t.Session()
	info, err := e.provider.Create(ctx, sess.DeploymentID())
	if err != nil {
		if info.ID == "" || info.ID == sess.DeploymentID() {
			return step{}, fmt.Errorf("create scanner deployment: %w", err)
		}
		// Resources may exist under the new id; keep it so a later cycle
		// reuses them and teardown can find them.
		sess.Deployment = &info
		t.SetSession(sess)
		e.logger.Warn(ctx, "Scanner deployment create failed, recorded its id",
			"task_uuid", t.UUID().String(),
			"deployment_id", info.ID,
			"error", err,
		)
		return step{persist: true}, nil
	}
	sess.Deployment = &info
	t.SetSession(sess)
	span.SetAttributes(
		attribute.String("deployment_id", info.ID),
		attribute.String("deployment_status", info.Status.String()),
	)

	if !info.Ready() {
		e.logger.Debug(ctx, "Scanner deployment not ready",
			"task_uuid", t.UUID().String(),
			"deployment_id", info.ID,
			"status", info.Status.String(),
		)
		return step{persist: true}, nil
	}

	ep := engine.Endpoint{Host: info.Host, Port: info.Port}
	handles, err := e.scanner.Launch(ctx, ep, t.Target())
	if err != nil {
		failures := t.RecordLaunchFailure()
		e.logger.Warn(ctx, "Scan launch failed, will retry",
			"task_uuid", t.UUID().String(),
			"consecutive_failures", failures,
			"error", err,
		)
		if e.cfg.MaxLaunchFailures > 0 && failures >= e.cfg.MaxLaunchFailures {
			t.SetErrorReason(task.ReasonLaunchFailures(failures))
			return step{next: task.ProgressFailed}, nil
		}
		return step{persist: true, keepPosition: true}, nil
	}

	sess = t.Session()
	sess.Engine = &handles
	sess.LaunchFailures = 0
	t.SetSession(sess)
	t.MarkStarted(now)

	e.logger.Info(ctx, "Scan launched",
		"task_uuid", t.UUID().String(),
		"engine_task_id", handles.TaskID,
	)
	return step{next: task.ProgressRunning, scanStartedAt: now}, nil
}

func (e *Engine) handleRunning(ctx context.Context, t *task.Task) (step, error) {
	now := e.clock.Now()

	if now.After(t.StartedAt().Add(e.cfg.MaxScanDuration)) {
		e.terminate(ctx, t)
		t.SetErrorReason(task.ReasonDurationExceeded(e.cfg.MaxScanDuration))
		return e.ended(t, task.ProgressFailed, now), nil
	}

	if !t.EndAt().After(now) {
		e.terminate(ctx, t)
		t.SetErrorReason(task.ReasonWindowOver)
		return e.ended(t, task.ProgressFailed, now), nil
	}

	sess := t.Session()
	ep, okEp := sess.Endpoint()
	handles, okH := sess.Handles()
	if !okEp || !okH {
		t.SetErrorReason(task.ReasonServerDown)
		return e.ended(t, task.ProgressFailed, now), nil
	}

	status, err := e.scanner.Status(ctx, ep, handles)
	if err != nil {
		e.logger.Warn(ctx, "Failed to poll scan status",
			"task_uuid", t.UUID().String(),
			"error", err,
		)
		t.SetErrorReason(task.ReasonServerDown)
		return e.ended(t, task.ProgressFailed, now), nil
	}

	switch status {
	case engine.RunStatusStopped:
		return e.ended(t, task.ProgressStopped, now), nil
	case engine.RunStatusFailed:
		t.SetErrorReason(task.ReasonScannerError)
		return e.ended(t, task.ProgressFailed, now), nil
	default:
		e.logger.Debug(ctx, "Scan ongoing", "task_uuid", t.UUID().String())
		return step{}, nil
	}
}

// ended stamps the end of the actual scan window on the task and its scan.
func (e *Engine) ended(t *task.Task, next task.Progress, now time.Time) step {
	t.MarkEnded(now)
	return step{next: next, scanEndedAt: now}
}

// terminate asks the engine to stop a scan that is being abandoned.
func (e *Engine) terminate(ctx context.Context, t *task.Task) {
	sess := t.Session()
	ep, okEp := sess.Endpoint()
	handles, okH := sess.Handles()
	if !okEp || !okH {
		return
	}
	if err := e.scanner.Terminate(ctx, ep, handles); err != nil {
		e.logger.Warn(ctx, "Failed to terminate scan", "task_uuid", t.UUID().String(), "error", err)
	}
}

func (e *Engine) handleStopped(ctx context.Context, t *task.Task) (step, error) {
	key := finding.ReportKey(t.AuditID(), t.ScanID(), t.UUID())

	raw, ok := e.storedReport(ctx, t, key)
	if !ok {
		sess := t.Session()
		ep, okEp := sess.Endpoint()
		handles, okH := sess.Handles()
		if !okEp || !okH {
			t.SetErrorReason(task.ReasonReportDownload)
			return step{next: task.ProgressFailed}, nil
		}

		var err error
		raw, err = e.scanner.Report(ctx, ep, handles)
		if err != nil {
			e.logger.Warn(ctx, "Failed to download report", "task_uuid", t.UUID().String(), "error", err)
			t.SetErrorReason(task.ReasonReportDownload)
			return step{next: task.ProgressFailed}, nil
		}

		if err := e.reports.Store(ctx, key, raw); err != nil {
			e.logger.Warn(ctx, "Failed to store report", "task_uuid", t.UUID().String(), "key", key, "error", err)
			t.SetErrorReason(task.ReasonReportDownload)
			return step{next: task.ProgressFailed}, nil
		}
	}

	report, err := e.scanner.ParseReport(raw)
	if err != nil {
		e.logger.Warn(ctx, "Failed to parse report", "task_uuid", t.UUID().String(), "key", key, "error", err)
		t.SetErrorReason(task.ReasonReportParse)
		return step{next: task.ProgressFailed}, nil
	}

	classes, err := e.classifier.FixRequirements(ctx, report.OIDs())
	if err != nil {
		return step{}, fmt.Errorf("classify findings: %w", err)
	}

	t.SetErrorReason("")
	return step{
		next:          task.ProgressDeleted,
		resetSchedule: true,
		report:        report,
		summary:       finding.Summarize(report.Results, classes),
	}, nil
}

// storedReport returns the raw report an earlier cycle already stored for t,
// if any. Lookup errors other than a missing report are logged and treated as
// a miss.
func (e *Engine) storedReport(ctx context.Context, t *task.Task, key string) ([]byte, bool) {
	raw, err := e.reports.Load(ctx, key)
	switch {
	case err == nil:
		e.logger.Debug(ctx, "Reusing stored report", "task_uuid", t.UUID().String(), "key", key)
		return raw, true
	case errors.Is(err, finding.ErrReportNotFound):
		return nil, false
	default:
		e.logger.Warn(ctx, "Failed to load stored report", "task_uuid", t.UUID().String(), "key", key, "error", err)
		return nil, false
	}
}

func (e *Engine) handleFailed(_ context.Context, _ *task.Task) (step, error) {
	return step{next: task.ProgressDeleted, resetSchedule: true}, nil
}

func (e *Engine) handleDeleted(_ context.Context, _ *task.Task) (step, error) {
	return step{}, nil
}
