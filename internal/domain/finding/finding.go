// Package finding models the output of a completed scan: the shared
// vulnerability catalog and the per-scan result rows.
package finding

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// FixRequired is the curated response classification of a vulnerability.
type FixRequired string

const (
	FixRequiredRequired    FixRequired = "REQUIRED"
	FixRequiredRecommended FixRequired = "RECOMMENDED"
	FixRequiredOptional    FixRequired = "OPTIONAL"
	FixRequiredUndefined   FixRequired = "UNDEFINED"
)

// String returns the string representation of the FixRequired.
func (f FixRequired) String() string { return string(f) }

// ParseFixRequired maps stored text to a FixRequired, treating anything
// unknown as UNDEFINED.
func ParseFixRequired(s string) FixRequired {
	switch f := FixRequired(s); f {
	case FixRequiredRequired, FixRequiredRecommended, FixRequiredOptional:
		return f
	default:
		return FixRequiredUndefined
	}
}

// Vulnerability is a catalog entry keyed by the engine's stable test
// identifier. Entries are inserted once and afterwards only curated by humans.
type Vulnerability struct {
	OID         string
	FixRequired FixRequired
	Advice      string
}

// Result is a single finding of a scan.
type Result struct {
	Name         string
	Host         string
	Port         string
	CVSSBase     string
	CVE          string
	OID          string
	Description  string
	QoD          string
	Severity     string
	SeverityRank string
	Scanner      string
}

// Report is the parsed content of a raw engine report.
type Report struct {
	Vulnerabilities []Vulnerability
	Results         []Result
}

// OIDs returns the distinct vulnerability identifiers referenced by the
// report's results, sorted for deterministic queries.
func (r *Report) OIDs() []string {
	seen := make(map[string]struct{}, len(r.Results))
	oids := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.OID == "" {
			continue
		}
		if _, ok := seen[res.OID]; ok {
			continue
		}
		seen[res.OID] = struct{}{}
		oids = append(oids, res.OID)
	}
	sort.Strings(oids)
	return oids
}

// Summary counts results per classification.
type Summary map[FixRequired]int

// Summarize classifies every result using classes. Results whose identifier
// is missing from classes count as UNDEFINED, which matches the catalog
// default for newly inserted entries.
func Summarize(results []Result, classes map[string]FixRequired) Summary {
	s := Summary{}
	for _, r := range results {
		fr, ok := classes[r.OID]
		if !ok {
			fr = FixRequiredUndefined
		}
		s[fr]++
	}
	return s
}

// Total returns the number of summarized results.
func (s Summary) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// ReportKey returns the storage key of a task's raw report.
func ReportKey(auditID, scanID int64, taskUUID uuid.UUID) string {
	hex := taskUUID.String()[:8]
	return fmt.Sprintf("%08d-%08d-%s.xml", auditID, scanID, hex)
}

// ErrReportNotFound is returned by a ReportStore when no blob exists for a key.
var ErrReportNotFound = errors.New("report not found")

// ReportStore persists raw reports. Store overwrites any existing blob.
type ReportStore interface {
	Store(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// Classifier looks up the curated classification of catalog entries.
type Classifier interface {
	FixRequirements(ctx context.Context, oids []string) (map[string]FixRequired, error)
}
