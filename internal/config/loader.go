package config

import "context"

// Loader resolves the controller configuration from its sources.
type Loader interface {
	// Load returns the merged configuration. Implementations start from
	// Default and validate the result.
	Load(ctx context.Context) (*Config, error)
}
