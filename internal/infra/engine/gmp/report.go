package gmp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
)

// ScannerName is recorded on every parsed result.
const ScannerName = "OpenVAS Default"

type reportResult struct {
	Host struct {
		Addr string `xml:",chardata"`
	} `xml:"host"`
	Port string `xml:"port"`
	NVT  struct {
		OID      string `xml:"oid,attr"`
		Name     string `xml:"name"`
		CVSSBase string `xml:"cvss_base"`
		CVE      string `xml:"cve"`
		Tags     string `xml:"tags"`
	} `xml:"nvt"`
	Threat   string `xml:"threat"`
	Severity string `xml:"severity"`
}

// ParseReport extracts the findings of a report returned by Report. Result
// elements are collected wherever they occur under the report element; the
// detection details nested inside a result are consumed with it.
func (c *Client) ParseReport(raw []byte) (*finding.Report, error) { return ParseReport(raw) }

// ParseReport is the standalone form of Client.ParseReport.
func ParseReport(raw []byte) (*finding.Report, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty report")
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))
	rep := &finding.Report{Vulnerabilities: []finding.Vulnerability{}, Results: []finding.Result{}}
	seen := make(map[string]struct{})
	sawReport := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "report":
			sawReport = true
		case "result":
			var r reportResult
			if err := dec.DecodeElement(&r, &start); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
			if r.NVT.OID == "" {
				continue
			}
			if _, dup := seen[r.NVT.OID]; !dup {
				seen[r.NVT.OID] = struct{}{}
				rep.Vulnerabilities = append(rep.Vulnerabilities, finding.Vulnerability{
					OID:         r.NVT.OID,
					FixRequired: finding.FixRequiredUndefined,
				})
			}
			rep.Results = append(rep.Results, r.toResult())
		}
	}

	if !sawReport {
		return nil, errors.New("document contains no report element")
	}
	return rep, nil
}

func (r reportResult) toResult() finding.Result {
	return finding.Result{
		Name:         strings.TrimSpace(r.NVT.Name),
		Host:         strings.TrimSpace(r.Host.Addr),
		Port:         portName(r.Port),
		CVSSBase:     strings.TrimSpace(r.NVT.CVSSBase),
		CVE:          strings.Join(cves(r.NVT.CVE), ","),
		OID:          r.NVT.OID,
		Description:  firstTag(r.NVT.Tags),
		Severity:     strings.TrimSpace(r.Severity),
		SeverityRank: strings.TrimSpace(r.Threat),
		Scanner:      ScannerName,
	}
}

// portName returns the service part of a port column such as
// "https (443/tcp)", "443/tcp" or "general/tcp".
func portName(port string) string {
	port = strings.TrimSpace(port)
	if i := strings.Index(port, " ("); i > 0 {
		return port[:i]
	}
	if i := strings.IndexByte(port, '/'); i >= 0 {
		return port[:i]
	}
	return port
}

func cves(field string) []string {
	var out []string
	for _, c := range strings.Split(field, ",") {
		c = strings.TrimSpace(c)
		if c == "" || c == "NOCVE" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// firstTag returns the value of the first key=value pair of an NVT tag string.
func firstTag(tags string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(tags), "|")
	if _, value, ok := strings.Cut(first, "="); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(first)
}
