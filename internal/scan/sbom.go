package scan

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// SBOM formats accepted by the generators and the Inspector scan API.
const (
	SBOMFormatSPDXJSON      = "spdx-json"
	SBOMFormatCycloneDXJSON = "cyclonedx-json"
)

// SBOMFileExt returns the conventional file extension for a format.
func SBOMFileExt(format string) string {
	switch format {
	case SBOMFormatSPDXJSON:
		return "spdx.json"
	case SBOMFormatCycloneDXJSON:
		return "cdx.json"
	default:
		return "json"
	}
}

// SBOMFileName derives the output filename for an image reference.
func SBOMFileName(imageRef, tool, format string) string {
	name := strings.ReplaceAll(imageRef, "/", "_")
	name = strings.ReplaceAll(name, ":", "_")
	return fmt.Sprintf("%s.%s.%s", name, tool, SBOMFileExt(format))
}

// SBOMGenerator produces a software bill of materials for an image.
type SBOMGenerator struct {
	tool   string // syft (default) or trivy
	binary string
}

// NewSBOMGenerator resolves the configured SBOM tool.
func NewSBOMGenerator(tool string) (*SBOMGenerator, error) {
	if tool == "" {
		tool = "syft"
	}
	switch tool {
	case "syft", "trivy":
	default:
		return nil, fmt.Errorf("unsupported SBOM tool: %s (supported: syft, trivy)", tool)
	}

	binary, err := lookupTool(tool)
	if err != nil {
		return nil, err
	}
	return &SBOMGenerator{tool: tool, binary: binary}, nil
}

// Tool returns the resolved tool name.
func (g *SBOMGenerator) Tool() string { return g.tool }

// Generate writes the SBOM for imageRef into outputDir and returns the file
// path.
func (g *SBOMGenerator) Generate(ctx context.Context, imageRef, format, outputDir string) (string, error) {
	if format == "" {
		format = SBOMFormatSPDXJSON
	}
	switch format {
	case SBOMFormatSPDXJSON, SBOMFormatCycloneDXJSON:
	default:
		return "", fmt.Errorf("unsupported SBOM format: %s", format)
	}

	runCtx, cancel := context.WithTimeout(ctx, TimeoutScan)
	defer cancel()

	cmd := exec.CommandContext(runCtx, g.binary, sbomCommandArgs(g.tool, format, imageRef)...)

	output, err := runCommand(cmd)
	if err != nil {
		return "", fmt.Errorf("%s SBOM generation failed: %w", g.tool, err)
	}

	outputFile := filepath.Join(outputDir, SBOMFileName(imageRef, g.tool, format))
	if err := writeFile(outputFile, output); err != nil {
		return "", err
	}
	return outputFile, nil
}

// sbomCommandArgs constructs the tool invocation. Each tool names the
// formats differently: trivy calls CycloneDX JSON plain "cyclonedx" while
// syft wants "cyclonedx-json". Pure function, split out for unit testing.
func sbomCommandArgs(tool, format, imageRef string) []string {
	switch tool {
	case "trivy":
		trivyFormat := format
		if format == SBOMFormatCycloneDXJSON {
			trivyFormat = "cyclonedx"
		}
		return []string{"image", "--format", trivyFormat, "--quiet", imageRef}
	default: // syft
		return []string{"scan", "--output", format, imageRef}
	}
}
