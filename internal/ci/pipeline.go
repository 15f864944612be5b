// Package ci provides the pipeline definition and the stage executors for
// the vulnerability-gated image publishing pipeline.
package ci

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
	"github.com/shipgate/shipgate/internal/gate"
	"gopkg.in/yaml.v3"
)

const (
	// PipelineAPIVersion is the supported pipeline schema version.
	PipelineAPIVersion = "shipgate.dev/v1"
	// PipelineKind is the supported pipeline document kind.
	PipelineKind = "Pipeline"
	// DefaultPipelineFile is the filename looked up when none is given.
	DefaultPipelineFile = "shipgate.yaml"
)

// Pipeline represents a shipgate pipeline definition.
type Pipeline struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   PipelineMetadata `yaml:"metadata"`
	Spec       PipelineSpec     `yaml:"spec"`
	baseDir    string           // directory of the pipeline file, for relative paths
}

// PipelineMetadata contains pipeline metadata.
type PipelineMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// PipelineSpec contains the pipeline specification.
type PipelineSpec struct {
	Source    SourceConfig     `yaml:"source"`
	Build     *BuildConfig     `yaml:"build,omitempty"`
	Scan      *ScanConfig      `yaml:"scan,omitempty"`
	Artifacts *ArtifactsConfig `yaml:"artifacts,omitempty"`
	Release   *ReleaseConfig   `yaml:"release,omitempty"`
}

// SourceConfig defines where the build inputs come from.
type SourceConfig struct {
	// Repository is a git URL. Empty means the pipeline file's directory is
	// already a checkout.
	Repository string `yaml:"repository,omitempty"`
	// Commit pins the exact revision; resolved to a full SHA at fetch time.
	Commit     string `yaml:"commit,omitempty"`
	Dockerfile string `yaml:"dockerfile"`
	Context    string `yaml:"context,omitempty"`
}

// BuildConfig defines build stage settings.
type BuildConfig struct {
	Platform string            `yaml:"platform,omitempty"`
	Args     map[string]string `yaml:"args,omitempty"`
	Labels   map[string]string `yaml:"labels,omitempty"`
	// CacheDir is the root of the local layer cache. Subdirectories are
	// keyed by commit SHA with a fallback link for partial reuse.
	CacheDir string `yaml:"cacheDir,omitempty"`
}

// ScanConfig defines scan stage settings.
type ScanConfig struct {
	// Backend selects the scanner: trivy (default), grype, or inspector.
	Backend    string          `yaml:"backend,omitempty"`
	Thresholds gate.Thresholds `yaml:"thresholds"`
	SBOM       *SBOMConfig     `yaml:"sbom,omitempty"`
}

// SBOMConfig defines SBOM generation settings.
type SBOMConfig struct {
	Tool   string `yaml:"tool,omitempty"`   // syft (default) or trivy
	Format string `yaml:"format,omitempty"` // spdx-json or cyclonedx-json
}

// ArtifactsConfig defines where scan outputs are retained.
type ArtifactsConfig struct {
	// OutputDir for local report files (default: output).
	OutputDir string `yaml:"outputDir,omitempty"`
	// SaveImage additionally archives the built image as a tar artifact.
	SaveImage bool `yaml:"saveImage,omitempty"`
	// S3 enables durable retention in a bucket.
	S3 *S3Config `yaml:"s3,omitempty"`
}

// S3Config identifies the artifact bucket.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix,omitempty"`
}

// ReleaseConfig defines the registry target and the credential chain.
type ReleaseConfig struct {
	Region     string `yaml:"region"`
	Repository string `yaml:"repository"`
	// RoleARN is the initial OIDC-assumable role.
	RoleARN string `yaml:"roleArn,omitempty"`
	// DeployRoleARN is the chained deployment role.
	DeployRoleARN string `yaml:"deployRoleArn,omitempty"`
	// ExtraTags are pushed in addition to latest and the commit SHA.
	ExtraTags []string `yaml:"extraTags,omitempty"`
}

// LoadPipeline loads a pipeline definition from a YAML file.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", path, err)
	}

	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pipeline file path: %w", err)
	}
	pipeline.baseDir = filepath.Dir(absPath)

	if err := pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline definition: %w", err)
	}

	return &pipeline, nil
}

// Validate validates the pipeline definition. Threshold validation happens
// here so malformed limits fail before any stage runs.
func (p *Pipeline) Validate() error {
	if p.APIVersion == "" {
		return fmt.Errorf("apiVersion is required")
	}
	if p.APIVersion != PipelineAPIVersion {
		return fmt.Errorf("unsupported apiVersion: %s (expected %s)", p.APIVersion, PipelineAPIVersion)
	}

	if p.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if p.Kind != PipelineKind {
		return fmt.Errorf("unsupported kind: %s (expected %s)", p.Kind, PipelineKind)
	}

	if p.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	if p.Spec.Source.Dockerfile == "" {
		return fmt.Errorf("spec.source.dockerfile is required")
	}

	if p.Spec.Scan != nil {
		if err := p.Spec.Scan.Thresholds.Validate(); err != nil {
			return fmt.Errorf("spec.scan.thresholds: %w", err)
		}
		switch p.Spec.Scan.Backend {
		case "", "trivy", "grype", "inspector":
		default:
			return fmt.Errorf("unsupported scan backend: %s (supported: trivy, grype, inspector)", p.Spec.Scan.Backend)
		}
	}

	if p.Spec.Release != nil {
		if p.Spec.Release.Repository == "" {
			return fmt.Errorf("spec.release.repository is required")
		}
		if p.Spec.Release.Region == "" {
			return fmt.Errorf("spec.release.region is required")
		}
	}

	// Local checkouts must point at an existing Dockerfile; remote sources
	// are validated after fetch.
	if p.Spec.Source.Repository == "" {
		dockerfile, err := p.ResolveDockerfilePath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(dockerfile); os.IsNotExist(err) {
			return fmt.Errorf("dockerfile not found: %s", dockerfile)
		}
	}

	return nil
}

// ResolveDockerfilePath returns the absolute path to the Dockerfile,
// trying the pipeline base directory first and the build context second
// (the buildah resolution order).
func (p *Pipeline) ResolveDockerfilePath() (string, error) {
	dockerfile := p.Spec.Source.Dockerfile
	if filepath.IsAbs(dockerfile) {
		return dockerfile, nil
	}

	baseResolved, _ := filepath.Abs(filepath.Join(p.baseDir, dockerfile))
	if _, err := os.Stat(baseResolved); err == nil {
		return baseResolved, nil
	}

	contextPath, err := p.ResolveContextPath()
	if err != nil {
		return "", err
	}

	cleanPath := strings.TrimPrefix(dockerfile, "./")
	cleanContext := strings.TrimPrefix(p.Spec.Source.Context, "./")
	if cleanContext != "" && strings.HasPrefix(cleanPath, cleanContext+string(filepath.Separator)) {
		cleanPath = strings.TrimPrefix(cleanPath, cleanContext+string(filepath.Separator))
	}

	resolved, err := filepath.Abs(filepath.Join(contextPath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve dockerfile path: %w", err)
	}
	return resolved, nil
}

// ResolveContextPath returns the absolute path to the build context.
func (p *Pipeline) ResolveContextPath() (string, error) {
	context := p.Spec.Source.Context
	if context == "" {
		context = "."
	}

	var contextPath string
	if filepath.IsAbs(context) {
		contextPath = context
	} else {
		contextPath = filepath.Join(p.baseDir, context)
	}

	absPath, err := filepath.Abs(contextPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve context path: %w", err)
	}
	return absPath, nil
}

// BaseDir returns the base directory of the pipeline file.
func (p *Pipeline) BaseDir() string {
	return p.baseDir
}

// SetBaseDir rebases relative path resolution, used after a source fetch
// places the checkout elsewhere.
func (p *Pipeline) SetBaseDir(dir string) {
	p.baseDir = dir
}

// BaseImages extracts base image references from the Dockerfile's FROM
// instructions, skipping ARG references, scratch, and earlier build stages.
func BaseImages(dockerfilePath string) ([]string, error) {
	f, err := os.Open(dockerfilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Dockerfile: %w", err)
	}
	defer f.Close()

	result, err := parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Dockerfile: %w", err)
	}

	var images []string
	stageNames := make(map[string]bool)

	for _, node := range result.AST.Children {
		if !strings.EqualFold(node.Value, "from") {
			continue
		}
		next := node.Next
		if next == nil {
			continue
		}
		image := next.Value

		// FROM <image> AS <name> registers a stage other FROMs may reference.
		if as := next.Next; as != nil && strings.EqualFold(as.Value, "as") && as.Next != nil {
			stageNames[strings.ToLower(as.Next.Value)] = true
		}

		if strings.HasPrefix(image, "$") {
			continue
		}
		if image == "scratch" {
			continue
		}
		if stageNames[strings.ToLower(image)] {
			continue
		}
		images = append(images, image)
	}

	return images, nil
}
