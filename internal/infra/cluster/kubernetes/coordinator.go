// Package kubernetes elects the active controller replica with a
// coordination.k8s.io Lease.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ahrav/vulnscan-armada/internal/app/cluster"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

var _ cluster.Coordinator = (*Coordinator)(nil)

// Config names the lease and the identity contending for it.
type Config struct {
	Namespace     string
	LeaseName     string
	Identity      string
	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

// DefaultConfig returns the lease timings used by the controller.
func DefaultConfig() Config {
	return Config{
		Namespace:     "default",
		LeaseName:     "vulnscan-controller-leader",
		LeaseDuration: 15 * time.Second,
		RenewDeadline: 10 * time.Second,
		RetryPeriod:   2 * time.Second,
	}
}

// Coordinator implements cluster.Coordinator on a Lease lock. After losing
// leadership it rejoins the election until its context ends.
type Coordinator struct {
	cfg    Config
	client kubernetes.Interface

	leaderElector *leaderelection.LeaderElector
	// Called when leadership status changes.
	leadershipChangeCB func(isLeader bool)

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator creates a Coordinator contending for cfg.LeaseName.
func NewCoordinator(client kubernetes.Interface, cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Coordinator, error) {
	_, span := tracer.Start(context.Background(), "kubernetes_coordinator.new",
		trace.WithAttributes(
			attribute.String("identity", cfg.Identity),
			attribute.String("lease", cfg.LeaseName),
		),
	)
	defer span.End()

	if client == nil {
		err := errors.New("kubernetes client is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if cfg.Identity == "" || cfg.LeaseName == "" || cfg.Namespace == "" {
		err := errors.New("namespace, lease name and identity are required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c := &Coordinator{
		cfg:    cfg,
		client: client,
		logger: logger.With(
			"component", "kubernetes_coordinator",
			"namespace", cfg.Namespace,
			"lease", cfg.LeaseName,
			"identity", cfg.Identity,
		),
		tracer: tracer,
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.Namespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: cfg.Identity,
		},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: c.onStartedLeading,
			OnStoppedLeading: c.onStoppedLeading,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create leader elector")
		return nil, fmt.Errorf("creating leader elector: %w", err)
	}
	c.leaderElector = elector
	span.AddEvent("leader_elector_created")

	return c, nil
}

// Start contends for the lease until ctx is canceled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info(ctx, "Starting leader elector")
	for ctx.Err() == nil {
		// Run returns when leadership is lost or ctx ends.
		c.leaderElector.Run(ctx)
	}
	return nil
}

// Stop is a no-op; canceling the Start context releases the lease.
func (c *Coordinator) Stop() error {
	c.logger.Info(context.Background(), "Stopping leader elector")
	return nil
}

// OnLeadershipChange registers cb.
func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) {
	c.leadershipChangeCB = cb
}

func (c *Coordinator) onStartedLeading(ctx context.Context) {
	_, span := c.tracer.Start(ctx, "kubernetes_coordinator.on_started_leading")
	defer span.End()

	c.logger.Info(ctx, "Became leader")
	if c.leadershipChangeCB != nil {
		c.leadershipChangeCB(true)
	}
}

func (c *Coordinator) onStoppedLeading() {
	ctx, span := c.tracer.Start(context.Background(), "kubernetes_coordinator.on_stopped_leading")
	defer span.End()

	c.logger.Info(ctx, "Lost leadership")
	if c.leadershipChangeCB != nil {
		c.leadershipChangeCB(false)
	}
}
