package ci

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shipgate/shipgate/internal/gate"
	"github.com/shipgate/shipgate/internal/scan"
	"github.com/sirupsen/logrus"
)

// Report file names written into the output directory.
const (
	ReportFileName   = "report.json"
	FindingsFileName = "findings.csv"
)

// ScanStage scans the built image and evaluates the severity gate.
type ScanStage struct {
	pipeline  *Pipeline
	runner    scan.Runner
	generator *scan.SBOMGenerator
	outputDir string
}

// NewScanStage creates a new scan stage executor.
func NewScanStage(pipeline *Pipeline, runner scan.Runner, generator *scan.SBOMGenerator, outputDir string) *ScanStage {
	return &ScanStage{
		pipeline:  pipeline,
		runner:    runner,
		generator: generator,
		outputDir: outputDir,
	}
}

// Execute scans imageRef, writes the report files, and evaluates the
// configured thresholds. The decision is returned alongside the report so
// the driver can upload artifacts before acting on a failed gate.
func (s *ScanStage) Execute(ctx context.Context, imageRef string) (*scan.FindingReport, gate.Decision, error) {
	fmt.Printf("🔍 Scanning image with %s: %s\n", s.runner.Name(), imageRef)

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return nil, gate.Decision{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, scan.TimeoutScan)
	defer cancel()

	report, err := s.runner.Scan(scanCtx, imageRef)
	if err != nil {
		return nil, gate.Decision{}, fmt.Errorf("scan failed: %w", err)
	}

	if err := writeReportFile(filepath.Join(s.outputDir, ReportFileName), report.WriteJSON); err != nil {
		return nil, gate.Decision{}, err
	}
	if err := writeReportFile(filepath.Join(s.outputDir, FindingsFileName), report.WriteCSV); err != nil {
		return nil, gate.Decision{}, err
	}

	if s.generator != nil {
		sbomPath, err := s.generator.Generate(scanCtx, imageRef, s.sbomFormat(), s.outputDir)
		if err != nil {
			// SBOM generation trouble should not discard scan findings.
			logrus.Warnf("SBOM generation failed: %v", err)
		} else {
			logrus.Debugf("SBOM written to %s", sbomPath)
		}
	}

	fmt.Print(report.String())

	var thresholds gate.Thresholds
	if s.pipeline.Spec.Scan != nil {
		thresholds = s.pipeline.Spec.Scan.Thresholds
	}
	decision := gate.Evaluate(report.SeverityReport(), thresholds)

	if decision.Passed() {
		fmt.Printf("✅ Vulnerability gate passed\n")
	} else {
		fmt.Printf("❌ Vulnerability gate failed:\n")
		for _, v := range decision.Violations {
			fmt.Printf("   - %s\n", v)
		}
	}

	return report, decision, nil
}

// writeReportFile writes one report rendering to path.
func writeReportFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := render(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func (s *ScanStage) sbomFormat() string {
	if cfg := s.pipeline.Spec.Scan; cfg != nil && cfg.SBOM != nil && cfg.SBOM.Format != "" {
		return cfg.SBOM.Format
	}
	return scan.SBOMFormatCycloneDXJSON
}
