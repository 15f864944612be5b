package main

import (
	"fmt"
	"os"

	"github.com/shipgate/shipgate/internal/ci"
	"github.com/shipgate/shipgate/internal/gate"
	"github.com/shipgate/shipgate/internal/scan"
	"github.com/spf13/cobra"
)

var (
	gatePipelineFile string
	gateAudit        bool
	gateThresholds   gate.Thresholds
)

var gateCmd = &cobra.Command{
	Use:   "gate [report-file]",
	Short: "Evaluate a saved scan report against severity thresholds",
	Long: `Evaluate a previously written report.json against severity
thresholds without rescanning.

Thresholds come from the severity flags, or from a pipeline file via
--pipeline. With --audit the violations are reported but the exit
code stays zero.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGate,
}

func init() {
	gateCmd.Flags().StringVar(&gatePipelineFile, "pipeline", "",
		"read thresholds from this pipeline file instead of the severity flags")
	gateCmd.Flags().BoolVar(&gateAudit, "audit", false,
		"report violations without failing")
	gateCmd.Flags().IntVar(&gateThresholds.Critical, "critical", 0, "max allowed critical findings")
	gateCmd.Flags().IntVar(&gateThresholds.High, "high", 0, "max allowed high findings")
	gateCmd.Flags().IntVar(&gateThresholds.Medium, "medium", 0, "max allowed medium findings")
	gateCmd.Flags().IntVar(&gateThresholds.Low, "low", 0, "max allowed low findings")
	gateCmd.Flags().IntVar(&gateThresholds.Other, "other", 0, "max allowed other findings")
}

func runGate(cmd *cobra.Command, args []string) error {
	reportPath := ci.ReportFileName
	if len(args) > 0 {
		reportPath = args[0]
	}

	f, err := os.Open(reportPath)
	if err != nil {
		return fmt.Errorf("failed to open report %s: %w", reportPath, err)
	}
	defer f.Close()

	report, err := scan.DecodeFindingReport(f)
	if err != nil {
		return err
	}

	thresholds := gateThresholds
	if gatePipelineFile != "" {
		pipeline, err := ci.LoadPipeline(gatePipelineFile)
		if err != nil {
			return err
		}
		if pipeline.Spec.Scan == nil {
			return fmt.Errorf("pipeline %s has no scan thresholds", gatePipelineFile)
		}
		thresholds = pipeline.Spec.Scan.Thresholds
	}
	if err := thresholds.Validate(); err != nil {
		return err
	}

	decision := gate.Evaluate(report.SeverityReport(), thresholds)

	fmt.Printf("Report: %s (%s scan of %s)\n", reportPath, report.Scanner, report.ImageRef)
	if decision.Passed() {
		fmt.Printf("✅ Gate passed\n")
		return nil
	}

	fmt.Printf("❌ Gate failed:\n")
	for _, v := range decision.Violations {
		fmt.Printf("   - %s\n", v)
	}
	if gateAudit {
		fmt.Printf("Audit mode: not failing\n")
		return nil
	}
	return decision.Err()
}
