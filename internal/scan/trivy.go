package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// TrivyRunner executes 'trivy image <ref> --format json'.
type TrivyRunner struct {
	binary string
}

// NewTrivyRunner resolves the trivy binary.
func NewTrivyRunner() (*TrivyRunner, error) {
	binary, err := lookupTool("trivy")
	if err != nil {
		return nil, err
	}
	return &TrivyRunner{binary: binary}, nil
}

// Name returns the backend name.
func (r *TrivyRunner) Name() string { return "trivy" }

// Scan runs trivy against the image and parses its JSON report.
func (r *TrivyRunner) Scan(ctx context.Context, imageRef string) (*FindingReport, error) {
	runCtx, cancel := context.WithTimeout(ctx, TimeoutScan)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.binary, "image", "--format", "json", "--quiet", imageRef)
	output, err := runCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("trivy scan failed: %w", err)
	}

	return parseTrivyOutput(imageRef, output)
}

// parseTrivyOutput decodes trivy's JSON report. Only the fields the gate and
// the CSV need are read; importing trivy as a module would pull the whole
// scanner in.
func parseTrivyOutput(imageRef string, output []byte) (*FindingReport, error) {
	var doc struct {
		Results []struct {
			Vulnerabilities []struct {
				VulnerabilityID  string `json:"VulnerabilityID"`
				Severity         string `json:"Severity"`
				PkgName          string `json:"PkgName"`
				InstalledVersion string `json:"InstalledVersion"`
				FixedVersion     string `json:"FixedVersion"`
				PrimaryURL       string `json:"PrimaryURL"`
			} `json:"Vulnerabilities"`
		} `json:"Results"`
	}

	if err := json.Unmarshal(output, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse trivy output: %w", err)
	}

	var findings []Finding
	for _, result := range doc.Results {
		for _, v := range result.Vulnerabilities {
			findings = append(findings, Finding{
				ID:       v.VulnerabilityID,
				Severity: v.Severity,
				Package:  v.PkgName,
				Version:  v.InstalledVersion,
				FixedIn:  v.FixedVersion,
				Link:     v.PrimaryURL,
			})
		}
	}

	return NewFindingReport(imageRef, "trivy", findings), nil
}
