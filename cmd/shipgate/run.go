package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/shipgate/shipgate/internal/awsx"
	"github.com/shipgate/shipgate/internal/ci"
	"github.com/shipgate/shipgate/internal/config"
	"github.com/shipgate/shipgate/internal/docker"
	"github.com/shipgate/shipgate/internal/gate"
	"github.com/shipgate/shipgate/internal/scan"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	runSkipPublish bool
	runOutputDir   string
	runBackend     string
	runStage       string
)

// stageRank orders the selectable terminal stages. Publishing is never
// reachable without scanning, which the driver also enforces.
var stageRank = map[string]int{
	"build":     1,
	"scan":      2,
	"artifacts": 3,
	"release":   4,
}

var runCmd = &cobra.Command{
	Use:   "run [pipeline-file]",
	Short: "Run the publishing pipeline",
	Long: `Run the full pipeline defined in shipgate.yaml: fetch source, build
the image locally, scan it, retain the reports, and push to ECR only
when the vulnerability gate passes.

If no pipeline file is specified, shipgate.yaml in the current
directory is used.

Exit codes:
  0  published (or --skip-publish)
  1  infrastructure failure
  2  vulnerability gate exceeded`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&runSkipPublish, "skip-publish", false,
		"build and scan but never push, regardless of the gate outcome")
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "",
		"directory for scan reports (default from config, then ./output)")
	runCmd.Flags().StringVar(&runBackend, "backend", "",
		"scanner backend: trivy, grype, or inspector (overrides the pipeline)")
	runCmd.Flags().StringVar(&runStage, "stage", "release",
		"run through this stage only: build, scan, artifacts, or release")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	pipelinePath := ci.DefaultPipelineFile
	if len(args) > 0 {
		pipelinePath = args[0]
	}

	pipeline, err := ci.LoadPipeline(pipelinePath)
	if err != nil {
		return err
	}

	conf := getConfig()
	if err := applyOverrides(pipeline, conf); err != nil {
		return err
	}

	rank, ok := stageRank[runStage]
	if !ok {
		return fmt.Errorf("unknown stage: %s (supported: build, scan, artifacts, release)", runStage)
	}

	outputDir := runOutputDir
	if outputDir == "" && pipeline.Spec.Artifacts != nil && pipeline.Spec.Artifacts.OutputDir != "" {
		outputDir = pipeline.Spec.Artifacts.OutputDir
	}
	if outputDir == "" {
		outputDir = conf.OutputDir
	}

	if dryRun {
		return printRunPlan(pipeline, outputDir, rank)
	}

	client, err := docker.NewClient()
	if err != nil {
		return err
	}

	workDir, cleanup, err := newWorkDir()
	if err != nil {
		return err
	}
	defer cleanup()

	driver := buildDriver(pipeline, conf, client, outputDir, workDir)

	if rank < stageRank["release"] {
		driver.Publish = nil
	}
	if rank < stageRank["artifacts"] {
		driver.Artifacts = nil
	}
	if rank < stageRank["scan"] {
		driver.Scan = nil
	}

	result, err := driver.Run(cmd.Context())
	if err != nil {
		return err
	}

	if result.Published {
		fmt.Printf("Published %s\n", result.ImageRef)
	} else {
		fmt.Printf("Built and scanned %s (not published)\n", result.ImageRef)
	}
	return nil
}

// printRunPlan shows what a run would execute without touching the builder,
// the registry, or the cloud.
func printRunPlan(pipeline *ci.Pipeline, outputDir string, rank int) error {
	fmt.Printf("Dry run: %s\n\n", pipeline.Metadata.Name)

	stages := []string{"source", "build"}
	if rank >= stageRank["scan"] {
		stages = append(stages, "scan")
	}
	if rank >= stageRank["artifacts"] {
		stages = append(stages, "artifacts")
	}
	if rank >= stageRank["release"] && pipeline.Spec.Release != nil && !runSkipPublish {
		stages = append(stages, "release")
	}
	fmt.Printf("Stages: %s\n", strings.Join(stages, " → "))
	fmt.Printf("Output directory: %s\n", outputDir)

	if pipeline.Spec.Source.Repository == "" {
		dockerfile, err := pipeline.ResolveDockerfilePath()
		if err != nil {
			return err
		}
		contextPath, err := pipeline.ResolveContextPath()
		if err != nil {
			return err
		}

		repository := pipeline.Metadata.Name
		if rel := pipeline.Spec.Release; rel != nil {
			repository = rel.Repository
		}
		opts := docker.BuildOptions{
			Dockerfile: dockerfile,
			Context:    contextPath,
			Tags:       ci.ImageTags("<registry>", repository, "<commit>", nil),
			BuildArgs:  map[string]string{"COMMIT_SHA": "<commit>"},
		}
		if build := pipeline.Spec.Build; build != nil {
			opts.Platform = build.Platform
			for k, v := range build.Args {
				opts.BuildArgs[k] = v
			}
			opts.Labels = build.Labels
		}
		fmt.Printf("\nBuild command:\n  docker %s\n", strings.Join(docker.BuildCommandArgs(opts), " "))
	}
	return nil
}

// applyOverrides lets host config and environment win over the pipeline
// file for deployment-specific settings. The merged thresholds are
// re-validated: the pipeline file was checked at load, but overrides can
// arrive from config files and the environment afterwards.
func applyOverrides(pipeline *ci.Pipeline, conf *config.Config) error {
	if conf.Region != "" || conf.Repository != "" || conf.RoleARN != "" || conf.DeployRoleARN != "" {
		if pipeline.Spec.Release == nil {
			pipeline.Spec.Release = &ci.ReleaseConfig{}
		}
		rel := pipeline.Spec.Release
		if conf.Region != "" {
			rel.Region = conf.Region
		}
		if conf.Repository != "" {
			rel.Repository = conf.Repository
		}
		if conf.RoleARN != "" {
			rel.RoleARN = conf.RoleARN
		}
		if conf.DeployRoleARN != "" {
			rel.DeployRoleARN = conf.DeployRoleARN
		}
	}

	overrides := []struct {
		value *int
		dst   func(*gate.Thresholds) *int
	}{
		{conf.ThresholdCritical, func(t *gate.Thresholds) *int { return &t.Critical }},
		{conf.ThresholdHigh, func(t *gate.Thresholds) *int { return &t.High }},
		{conf.ThresholdMedium, func(t *gate.Thresholds) *int { return &t.Medium }},
		{conf.ThresholdLow, func(t *gate.Thresholds) *int { return &t.Low }},
		{conf.ThresholdOther, func(t *gate.Thresholds) *int { return &t.Other }},
	}
	for _, o := range overrides {
		if o.value == nil {
			continue
		}
		if pipeline.Spec.Scan == nil {
			pipeline.Spec.Scan = &ci.ScanConfig{}
		}
		*o.dst(&pipeline.Spec.Scan.Thresholds) = *o.value
	}

	if pipeline.Spec.Scan != nil {
		if err := pipeline.Spec.Scan.Thresholds.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// newWorkDir creates the per-run scratch directory (clone target) and the
// cleanup that removes it once the run is over.
func newWorkDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "shipgate-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			logrus.Debugf("Failed to remove work directory: %v", err)
		}
	}, nil
}

// buildDriver wires the stage executors together. AWS state established by
// earlier stages (session, registry endpoint) is captured in the closures.
func buildDriver(pipeline *ci.Pipeline, conf *config.Config, client *docker.Client, outputDir, workDir string) *ci.Driver {
	rel := pipeline.Spec.Release
	var awsCfg aws.Config

	driver := &ci.Driver{
		Timeout: conf.Timeout,

		Fetch: func(ctx context.Context) (string, error) {
			return ci.NewSourceStage(pipeline, workDir).Execute(ctx)
		},

		Setup: func(ctx context.Context) error {
			v, err := client.Version(ctx)
			if err != nil {
				return fmt.Errorf("container engine not usable: %w", err)
			}
			logrus.Debugf("Using %s %s", client.Binary(), v)
			return nil
		},

		Build: func(ctx context.Context, endpoint, commit string) (string, []string, error) {
			stage := ci.NewBuildStage(pipeline, client, endpoint, commit)
			ref, err := stage.Execute(ctx)
			if err != nil {
				return "", nil, err
			}
			repository := pipeline.Metadata.Name
			var extra []string
			if rel != nil {
				repository = rel.Repository
				extra = rel.ExtraTags
			}
			return ref, ci.ImageTags(endpoint, repository, commit, extra), nil
		},
	}

	if rel != nil {
		driver.Credentials = func(ctx context.Context) error {
			sessionCfg, err := awsx.NewSession(ctx, rel.Region, awsx.CredentialOptions{
				RoleARN:              rel.RoleARN,
				DeployRoleARN:        rel.DeployRoleARN,
				WebIdentityTokenFile: conf.WebIdentityTokenFile,
				SessionName:          "shipgate-" + pipeline.Metadata.Name,
			})
			if err != nil {
				return err
			}
			awsCfg = sessionCfg
			if identity, err := awsx.CallerIdentity(ctx, awsCfg); err == nil {
				logrus.Debugf("Assumed identity: %s", identity)
			}
			return nil
		}

		driver.Registry = func(ctx context.Context) (string, error) {
			session, err := awsx.AuthorizeRegistry(ctx, awsCfg)
			if err != nil {
				return "", err
			}
			if err := client.Login(ctx, session.Endpoint, session.Username, session.Password); err != nil {
				return "", err
			}
			if err := awsx.EnsureRepository(ctx, awsCfg, rel.Repository); err != nil {
				return "", err
			}
			return session.Endpoint, nil
		}

		if !runSkipPublish {
			driver.Publish = func(ctx context.Context, imageRef string, tags []string) error {
				return ci.NewReleaseStage(client, tags).Execute(ctx)
			}
		}
	}

	driver.Scan = func(ctx context.Context, imageRef string) (gate.Decision, error) {
		runner, generator, err := buildScanner(pipeline, awsCfg, outputDir)
		if err != nil {
			return gate.Decision{}, err
		}
		_, decision, err := ci.NewScanStage(pipeline, runner, generator, outputDir).Execute(ctx, imageRef)
		return decision, err
	}

	driver.Artifacts = func(ctx context.Context, imageRef string) error {
		if pipeline.Spec.Artifacts != nil && pipeline.Spec.Artifacts.SaveImage && imageRef != "" {
			tarPath := filepath.Join(outputDir, "image.tar")
			if err := client.Save(ctx, imageRef, tarPath); err != nil {
				return fmt.Errorf("failed to archive image: %w", err)
			}
		}

		var store ci.ArtifactStore
		bucket := conf.ArtifactBucket
		if pipeline.Spec.Artifacts != nil && pipeline.Spec.Artifacts.S3 != nil && pipeline.Spec.Artifacts.S3.Bucket != "" {
			bucket = pipeline.Spec.Artifacts.S3.Bucket
		}
		prefix := pipeline.Metadata.Name
		if pipeline.Spec.Artifacts != nil && pipeline.Spec.Artifacts.S3 != nil && pipeline.Spec.Artifacts.S3.Prefix != "" {
			prefix = pipeline.Spec.Artifacts.S3.Prefix
		}
		if bucket != "" {
			store = awsx.NewUploader(awsCfg, bucket)
		}
		return ci.NewArtifactsStage(outputDir, store, prefix).Execute(ctx)
	}

	return driver
}

// buildScanner constructs the configured scan backend and, when SBOM
// generation applies, the generator for it. The inspector backend writes
// its SBOM into outputDir so the artifact stage retains it.
func buildScanner(pipeline *ci.Pipeline, awsCfg aws.Config, outputDir string) (scan.Runner, *scan.SBOMGenerator, error) {
	backend := "trivy"
	var sbomTool string
	sbomRequested := false
	if cfg := pipeline.Spec.Scan; cfg != nil {
		if runBackend != "" {
			backend = runBackend
		} else if cfg.Backend != "" {
			backend = cfg.Backend
		}
		if cfg.SBOM != nil {
			sbomTool = cfg.SBOM.Tool
			sbomRequested = true
		}
	} else if runBackend != "" {
		backend = runBackend
	}

	var generator *scan.SBOMGenerator
	if sbomRequested || backend == "inspector" {
		g, err := scan.NewSBOMGenerator(sbomTool)
		if err != nil {
			return nil, nil, err
		}
		generator = g
	}

	switch backend {
	case "trivy":
		runner, err := scan.NewTrivyRunner()
		return runner, generator, err
	case "grype":
		runner, err := scan.NewGrypeRunner()
		return runner, generator, err
	case "inspector":
		return scan.NewInspectorRunner(awsCfg, generator, outputDir), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported scan backend: %s", backend)
	}
}
