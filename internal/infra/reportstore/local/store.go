// Package local stores raw reports as files under a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
)

var _ finding.ReportStore = (*Store)(nil)

// Store implements finding.ReportStore on the local filesystem.
type Store struct {
	dir    string
	tracer trace.Tracer
}

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string, tracer trace.Tracer) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve report directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &Store{dir: abs, tracer: tracer}, nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid report key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

// Store writes data under key, replacing any previous blob. The write goes
// through a temporary file so readers never observe a partial report.
func (s *Store) Store(ctx context.Context, key string, data []byte) error {
	_, span := s.tracer.Start(ctx, "local_report_store.store",
		trace.WithAttributes(attribute.String("key", key), attribute.Int("bytes", len(data))))
	defer span.End()

	full, err := s.path(key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid key")
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create temp file")
		return fmt.Errorf("store report %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write report")
		return fmt.Errorf("store report %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write report")
		return fmt.Errorf("store report %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to rename report")
		return fmt.Errorf("store report %s: %w", key, err)
	}
	return nil
}

// Load returns the blob stored under key or finding.ErrReportNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	_, span := s.tracer.Start(ctx, "local_report_store.load", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	full, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, finding.ErrReportNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read report")
		return nil, fmt.Errorf("load report %s: %w", key, err)
	}
	return data, nil
}
