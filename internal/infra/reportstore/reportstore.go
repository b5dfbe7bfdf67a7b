// Package reportstore selects the raw report backend from configuration.
package reportstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/infra/reportstore/local"
	"github.com/ahrav/vulnscan-armada/internal/infra/reportstore/s3store"
)

// ErrNotFound is returned by Load when no report exists for a key.
var ErrNotFound = finding.ErrReportNotFound

// Backend names a report store implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendS3    Backend = "s3"
)

// Config selects and configures the backend.
type Config struct {
	Backend  Backend
	LocalDir string
	S3       s3store.Config
}

// New builds the configured report store.
func New(ctx context.Context, cfg Config, tracer trace.Tracer) (finding.ReportStore, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return local.New(cfg.LocalDir, tracer)
	case BackendS3:
		client, err := s3store.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s3store.New(client, cfg.S3, tracer)
	default:
		return nil, fmt.Errorf("unknown report store backend %q", cfg.Backend)
	}
}
