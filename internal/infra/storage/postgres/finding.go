package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/db"
	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/infra/storage"
)

var _ finding.Classifier = (*findingStore)(nil)

// findingStore reads the curated vulnerability catalog and stored results.
type findingStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewFindingStore creates a finding store backed by PostgreSQL.
func NewFindingStore(pool *pgxpool.Pool, tracer trace.Tracer) *findingStore {
	return &findingStore{q: db.New(pool), tracer: tracer}
}

// FixRequirements returns the catalog classification of each known oid.
// Unknown oids are absent from the map.
func (s *findingStore) FixRequirements(ctx context.Context, oids []string) (map[string]finding.FixRequired, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int("oid_count", len(oids)))

	classes := make(map[string]finding.FixRequired, len(oids))
	if len(oids) == 0 {
		return classes, nil
	}

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_fix_requirements", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.ListFixRequirements(ctx, oids)
		if err != nil {
			return fmt.Errorf("ListFixRequirements query error: %w", err)
		}
		for _, row := range rows {
			classes[row.Oid] = finding.ParseFixRequired(string(row.FixRequired))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return classes, nil
}

// ResultsByScan returns the stored results of a scan in insertion order.
func (s *findingStore) ResultsByScan(ctx context.Context, scanID int64) ([]finding.Result, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("scan_id", scanID))

	var results []finding.Result
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_results_by_scan", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.ListResultsByScan(ctx, scanID)
		if err != nil {
			return fmt.Errorf("ListResultsByScan query error: %w", err)
		}
		results = make([]finding.Result, 0, len(rows))
		for _, r := range rows {
			results = append(results, finding.Result{
				Name:         r.Name,
				Host:         r.Host,
				Port:         r.Port,
				CVSSBase:     r.CvssBase,
				CVE:          r.Cve,
				OID:          r.Oid,
				Description:  r.Description,
				QoD:          r.Qod,
				Severity:     r.Severity,
				SeverityRank: r.SeverityRank,
				Scanner:      r.Scanner,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
