// Package local points every task at a single, externally managed scan engine.
package local

import (
	"context"

	"github.com/google/uuid"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
)

var _ deployment.Provider = (*Provider)(nil)

// Provider reports a fixed endpoint that is always ready. It never creates
// or removes anything.
type Provider struct {
	host string
	port int
}

// NewProvider creates a Provider for the engine at host:port.
func NewProvider(host string, port int) *Provider {
	return &Provider{host: host, port: port}
}

// Create returns the fixed endpoint, minting an id when none is given.
func (p *Provider) Create(_ context.Context, id string) (deployment.Info, error) {
	if id == "" {
		id = "local-" + uuid.NewString()
	}
	return deployment.Info{
		ID:     id,
		Status: deployment.StatusRunning,
		Host:   p.host,
		Port:   p.port,
	}, nil
}

// Delete is a no-op.
func (p *Provider) Delete(context.Context, string) error { return nil }

// IsReady always reports true.
func (p *Provider) IsReady(context.Context, string) (bool, error) { return true, nil }
