package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/inspectorscan/document"
	"github.com/aws/aws-sdk-go-v2/service/inspectorscan"
	inspectortypes "github.com/aws/aws-sdk-go-v2/service/inspectorscan/types"
	"github.com/sirupsen/logrus"
)

// InspectorRunner scans without sending the image anywhere: an SBOM is
// generated locally and submitted to the Amazon Inspector scan API, which
// returns an enriched CycloneDX document with vulnerability findings.
type InspectorRunner struct {
	client    *inspectorscan.Client
	generator *SBOMGenerator
	sbomDir   string
}

// NewInspectorRunner builds the backend with the run's chained credentials.
// sbomDir receives the generated SBOM; it doubles as a retained artifact,
// so callers pass the report output directory.
func NewInspectorRunner(cfg aws.Config, generator *SBOMGenerator, sbomDir string) *InspectorRunner {
	return &InspectorRunner{
		client:    inspectorscan.NewFromConfig(cfg),
		generator: generator,
		sbomDir:   sbomDir,
	}
}

// Name returns the backend name.
func (r *InspectorRunner) Name() string { return "inspector" }

// Scan generates a CycloneDX SBOM for the image and submits it for analysis.
func (r *InspectorRunner) Scan(ctx context.Context, imageRef string) (*FindingReport, error) {
	sbomPath, err := r.generator.Generate(ctx, imageRef, SBOMFormatCycloneDXJSON, r.sbomDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(sbomPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SBOM: %w", err)
	}

	var sbom map[string]interface{}
	if err := json.Unmarshal(data, &sbom); err != nil {
		return nil, fmt.Errorf("failed to parse SBOM: %w", err)
	}

	logrus.Debugf("Submitting SBOM %s to Inspector scan API", sbomPath)
	out, err := r.client.ScanSbom(ctx, &inspectorscan.ScanSbomInput{
		Sbom:         document.NewLazyDocument(sbom),
		OutputFormat: inspectortypes.OutputFormatCycloneDx15,
	})
	if err != nil {
		return nil, fmt.Errorf("inspector scan failed: %w", err)
	}

	var enriched enrichedSBOM
	if err := out.Sbom.UnmarshalSmithyDocument(&enriched); err != nil {
		return nil, fmt.Errorf("failed to parse inspector response: %w", err)
	}

	return NewFindingReport(imageRef, "inspector", enriched.findings()), nil
}

// enrichedSBOM is the slice of the CycloneDX 1.5 response the report needs.
type enrichedSBOM struct {
	Vulnerabilities []struct {
		ID      string `json:"id"`
		Ratings []struct {
			Severity string `json:"severity"`
		} `json:"ratings"`
		Affects []struct {
			Ref string `json:"ref"`
		} `json:"affects"`
		Recommendation string `json:"recommendation"`
		Source         struct {
			URL string `json:"url"`
		} `json:"source"`
	} `json:"vulnerabilities"`
}

func (s enrichedSBOM) findings() []Finding {
	var findings []Finding
	for _, v := range s.Vulnerabilities {
		severity := ""
		if len(v.Ratings) > 0 {
			severity = v.Ratings[0].Severity
		}
		pkg := ""
		if len(v.Affects) > 0 {
			pkg = v.Affects[0].Ref
		}
		findings = append(findings, Finding{
			ID:       v.ID,
			Severity: severity,
			Package:  pkg,
			FixedIn:  v.Recommendation,
			Link:     v.Source.URL,
		})
	}
	return findings
}
