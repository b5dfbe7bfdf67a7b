// Package standalone provides a coordinator for single-replica deployments
// that takes leadership immediately.
package standalone

import (
	"context"

	"github.com/ahrav/vulnscan-armada/internal/app/cluster"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

var _ cluster.Coordinator = (*Coordinator)(nil)

// Coordinator is always the leader while Start runs.
type Coordinator struct {
	cb     func(isLeader bool)
	logger *logger.Logger
}

// NewCoordinator creates a standalone Coordinator.
func NewCoordinator(logger *logger.Logger) *Coordinator {
	return &Coordinator{logger: logger.With("component", "standalone_coordinator")}
}

// Start reports leadership, blocks until ctx ends and then reports its loss.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info(ctx, "Running standalone, assuming leadership")
	if c.cb != nil {
		c.cb(true)
	}
	<-ctx.Done()
	if c.cb != nil {
		c.cb(false)
	}
	return nil
}

// Stop is a no-op.
func (c *Coordinator) Stop() error { return nil }

// OnLeadershipChange registers cb.
func (c *Coordinator) OnLeadershipChange(cb func(isLeader bool)) { c.cb = cb }
