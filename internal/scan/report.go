// Package scan runs vulnerability scanners against a built image and turns
// their output into a finding report the gate can evaluate.
package scan

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shipgate/shipgate/internal/gate"
)

// Finding is one vulnerability reported by a scanner.
type Finding struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Package  string `json:"package,omitempty"`
	Version  string `json:"version,omitempty"`
	FixedIn  string `json:"fixedIn,omitempty"`
	Link     string `json:"link,omitempty"`
}

// FindingReport is the structured result of scanning one image artifact.
// One report exists per pipeline run.
type FindingReport struct {
	ImageRef  string         `json:"imageRef"`
	Scanner   string         `json:"scanner"`
	ScannedAt time.Time      `json:"scannedAt"`
	Counts    map[string]int `json:"counts"`
	Findings  []Finding      `json:"findings,omitempty"`
}

// NewFindingReport builds a report from raw findings, tallying normalized
// severity counts.
func NewFindingReport(imageRef, scanner string, findings []Finding) *FindingReport {
	report := &FindingReport{
		ImageRef:  imageRef,
		Scanner:   scanner,
		ScannedAt: time.Now().UTC(),
		Counts:    make(map[string]int),
		Findings:  findings,
	}
	for _, sev := range gate.SeverityOrder {
		report.Counts[string(sev)] = 0
	}
	for _, f := range findings {
		report.Counts[string(gate.NormalizeSeverity(f.Severity))]++
	}
	return report
}

// SeverityReport converts the stored counts into the gate's report type.
// Missing levels normalize to zero.
func (r *FindingReport) SeverityReport() *gate.Report {
	out := gate.NewReport()
	for sev, n := range r.Counts {
		out.Add(sev, n)
	}
	return out
}

// SortBySeverity orders findings critical first, then by vulnerability ID.
func SortBySeverity(findings []Finding) {
	rank := map[gate.Severity]int{
		gate.SeverityCritical: 0,
		gate.SeverityHigh:     1,
		gate.SeverityMedium:   2,
		gate.SeverityLow:      3,
		gate.SeverityOther:    4,
	}
	sort.SliceStable(findings, func(i, j int) bool {
		ri := rank[gate.NormalizeSeverity(findings[i].Severity)]
		rj := rank[gate.NormalizeSeverity(findings[j].Severity)]
		if ri != rj {
			return ri < rj
		}
		return findings[i].ID < findings[j].ID
	})
}

// WriteJSON writes the machine-readable report.
func (r *FindingReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// DecodeFindingReport reads a report previously written by WriteJSON.
func DecodeFindingReport(rd io.Reader) (*FindingReport, error) {
	report := &FindingReport{}
	if err := json.NewDecoder(rd).Decode(report); err != nil {
		return nil, fmt.Errorf("failed to decode finding report: %w", err)
	}
	if report.Counts == nil {
		report.Counts = make(map[string]int)
	}
	return report, nil
}

// WriteCSV writes one row per finding for spreadsheet triage.
func (r *FindingReport) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "severity", "package", "version", "fixed_in", "link"}); err != nil {
		return err
	}
	findings := make([]Finding, len(r.Findings))
	copy(findings, r.Findings)
	SortBySeverity(findings)
	for _, f := range findings {
		if err := cw.Write([]string{f.ID, f.Severity, f.Package, f.Version, f.FixedIn, f.Link}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// String renders the human-readable summary table.
func (r *FindingReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scan report for %s (%s)\n", r.ImageRef, r.Scanner)

	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tCOUNT")
	for _, sev := range gate.SeverityOrder {
		fmt.Fprintf(tw, "%s\t%d\n", sev, r.Counts[string(sev)])
	}
	tw.Flush()

	if len(r.Findings) > 0 {
		findings := make([]Finding, len(r.Findings))
		copy(findings, r.Findings)
		SortBySeverity(findings)

		fmt.Fprintln(&sb)
		tw = tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSEVERITY\tPACKAGE\tVERSION\tFIXED IN")
		for _, f := range findings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Severity, f.Package, f.Version, f.FixedIn)
		}
		tw.Flush()
	}

	return sb.String()
}
