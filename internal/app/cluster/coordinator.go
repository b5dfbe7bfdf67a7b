// Package cluster defines how controller replicas agree on which one runs
// the state machine cycles.
package cluster

import "context"

// Coordinator manages leader election so that only one controller replica
// drives task transitions at a time.
type Coordinator interface {
	// Start runs the election and blocks until ctx is canceled or the
	// election fails irrecoverably.
	Start(ctx context.Context) error
	// Stop releases coordinator resources.
	Stop() error
	// OnLeadershipChange registers the callback invoked on every gain or loss
	// of leadership. It must be called before Start.
	OnLeadershipChange(cb func(isLeader bool))
}
