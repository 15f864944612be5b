package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// GrypeRunner executes 'grype <ref> -o json'.
type GrypeRunner struct {
	binary string
}

// NewGrypeRunner resolves the grype binary.
func NewGrypeRunner() (*GrypeRunner, error) {
	binary, err := lookupTool("grype")
	if err != nil {
		return nil, err
	}
	return &GrypeRunner{binary: binary}, nil
}

// Name returns the backend name.
func (r *GrypeRunner) Name() string { return "grype" }

// Scan runs grype against the image and parses its JSON report.
func (r *GrypeRunner) Scan(ctx context.Context, imageRef string) (*FindingReport, error) {
	runCtx, cancel := context.WithTimeout(ctx, TimeoutScan)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary, imageRef, "-o", "json")
	output, err := runCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("grype scan failed: %w", err)
	}

	return parseGrypeOutput(imageRef, output)
}

func parseGrypeOutput(imageRef string, output []byte) (*FindingReport, error) {
	var doc struct {
		Matches []struct {
			Vulnerability struct {
				ID         string `json:"id"`
				Severity   string `json:"severity"`
				DataSource string `json:"dataSource"`
				Fix        struct {
					Versions []string `json:"versions"`
				} `json:"fix"`
			} `json:"vulnerability"`
			Artifact struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"artifact"`
		} `json:"matches"`
	}

	if err := json.Unmarshal(output, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse grype output: %w", err)
	}

	var findings []Finding
	for _, match := range doc.Matches {
		fixedIn := ""
		if len(match.Vulnerability.Fix.Versions) > 0 {
			fixedIn = match.Vulnerability.Fix.Versions[0]
		}
		findings = append(findings, Finding{
			ID:       match.Vulnerability.ID,
			Severity: match.Vulnerability.Severity,
			Package:  match.Artifact.Name,
			Version:  match.Artifact.Version,
			FixedIn:  fixedIn,
			Link:     match.Vulnerability.DataSource,
		})
	}

	return NewFindingReport(imageRef, "grype", findings), nil
}
