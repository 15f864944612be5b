package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shipgate/shipgate/internal/ci"
	"github.com/shipgate/shipgate/internal/gate"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [pipeline-file]",
	Short: "Check a pipeline definition file",
	Long: `Check a shipgate.yaml pipeline definition for syntax and schema
errors, list the Dockerfile's base images, and show the effective
severity thresholds.

This validates the configuration only; no stage is executed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	pipelinePath := ci.DefaultPipelineFile
	if len(args) > 0 {
		pipelinePath = args[0]
	}

	pipeline, err := ci.LoadPipeline(pipelinePath)
	if err != nil {
		return err
	}
	if err := applyOverrides(pipeline, getConfig()); err != nil {
		return err
	}

	var baseImages []string
	if pipeline.Spec.Source.Repository == "" {
		dockerfile, err := pipeline.ResolveDockerfilePath()
		if err != nil {
			return err
		}
		baseImages, err = ci.BaseImages(dockerfile)
		if err != nil {
			return err
		}
	}

	if jsonOut {
		return printCheckJSON(pipeline, pipelinePath, baseImages)
	}

	fmt.Printf("✅ Pipeline definition is valid: %s\n\n", pipelinePath)
	fmt.Printf("Name: %s\n", pipeline.Metadata.Name)
	if pipeline.Spec.Source.Repository != "" {
		fmt.Printf("Source: %s\n", pipeline.Spec.Source.Repository)
	}
	if rel := pipeline.Spec.Release; rel != nil {
		fmt.Printf("Release: %s (%s)\n", rel.Repository, rel.Region)
	}

	if len(baseImages) > 0 {
		fmt.Printf("\nBase images:\n")
		for _, img := range baseImages {
			fmt.Printf("  - %s\n", img)
		}
	}

	var thresholds gate.Thresholds
	if pipeline.Spec.Scan != nil {
		thresholds = pipeline.Spec.Scan.Thresholds
	}
	fmt.Printf("\nSeverity thresholds:\n")
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  SEVERITY\tMAX ALLOWED")
	for _, sev := range gate.SeverityOrder {
		fmt.Fprintf(w, "  %s\t%d\n", sev, thresholds.Limit(sev))
	}
	return w.Flush()
}

func printCheckJSON(pipeline *ci.Pipeline, path string, baseImages []string) error {
	var thresholds gate.Thresholds
	if pipeline.Spec.Scan != nil {
		thresholds = pipeline.Spec.Scan.Thresholds
	}

	out := struct {
		Valid      bool            `json:"valid"`
		Path       string          `json:"path"`
		Name       string          `json:"name"`
		BaseImages []string        `json:"baseImages,omitempty"`
		Thresholds gate.Thresholds `json:"thresholds"`
	}{
		Valid:      true,
		Path:       path,
		Name:       pipeline.Metadata.Name,
		BaseImages: baseImages,
		Thresholds: thresholds,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
