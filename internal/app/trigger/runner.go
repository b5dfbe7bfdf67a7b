// Package trigger invokes the per-state orchestration cycles on fixed
// intervals while this replica holds leadership.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

// Handler runs one cycle for a state.
type Handler interface {
	Handle(ctx context.Context, p task.Progress) bool
}

// Intervals holds the cycle period of each state.
type Intervals map[task.Progress]time.Duration

// DefaultIntervals runs every state each minute except DELETED, which only
// needs occasional expiry sweeps.
func DefaultIntervals() Intervals {
	return Intervals{
		task.ProgressPending: time.Minute,
		task.ProgressRunning: time.Minute,
		task.ProgressStopped: time.Minute,
		task.ProgressFailed:  time.Minute,
		task.ProgressDeleted: 3 * time.Minute,
	}
}

// Validate requires a positive interval for every state.
func (iv Intervals) Validate() error {
	for _, p := range task.Progresses() {
		if iv[p] < time.Second {
			return fmt.Errorf("interval for %s must be at least 1s, got %s", p, iv[p])
		}
	}
	return nil
}

// Runner schedules one job per state. A cycle still running when its next
// tick fires causes that tick to be skipped, so each state never overlaps
// with itself.
type Runner struct {
	handler   Handler
	intervals Intervals

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRunner creates a stopped Runner.
func NewRunner(handler Handler, intervals Intervals, logger *logger.Logger, tracer trace.Tracer) (*Runner, error) {
	if err := intervals.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		handler:   handler,
		intervals: intervals,
		logger:    logger.With("component", "trigger_runner"),
		tracer:    tracer,
	}, nil
}

// Start schedules the state jobs. Jobs run with a context derived from ctx
// that is canceled by Stop. Starting a running Runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: r.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, p := range task.Progresses() {
		c.Schedule(cron.Every(r.intervals[p]), r.job(jobCtx, p))
	}
	c.Start()

	r.cron, r.cancel = c, cancel
	r.logger.Info(ctx, "Trigger runner started")
}

// Stop cancels in-flight cycles and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron == nil {
		return
	}

	r.cancel()
	<-r.cron.Stop().Done()
	r.cron, r.cancel = nil, nil
	r.logger.Info(context.Background(), "Trigger runner stopped")
}

// Running reports whether jobs are scheduled.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cron != nil
}

// LeadershipHandler returns a callback for cluster.Coordinator that runs
// the jobs only while leading.
func (r *Runner) LeadershipHandler(ctx context.Context) func(isLeader bool) {
	return func(isLeader bool) {
		if isLeader {
			r.Start(ctx)
			return
		}
		r.Stop()
	}
}

func (r *Runner) job(ctx context.Context, p task.Progress) cron.Job {
	return cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		ctx, span := r.tracer.Start(ctx, "trigger_runner.cycle",
			trace.WithAttributes(attribute.String("progress", p.String())))
		defer span.End()

		ok := r.handler.Handle(ctx, p)
		span.SetAttributes(attribute.Bool("ok", ok))
	})
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(context.Background(), msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(context.Background(), msg, append(keysAndValues, "error", err)...)
}
