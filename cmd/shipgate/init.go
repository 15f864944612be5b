package main

import (
	"fmt"
	"os"

	"github.com/shipgate/shipgate/internal/ci"
	"github.com/spf13/cobra"
)

var initForce bool

const samplePipeline = `apiVersion: shipgate.dev/v1
kind: Pipeline
metadata:
  name: my-service
  description: Build, scan, and publish my-service
spec:
  source:
    # Leave repository empty to build the current checkout.
    # repository: https://github.com/example/my-service.git
    # commit: main
    dockerfile: Dockerfile
    context: .
  build:
    # cacheDir: .shipgate-cache
    args: {}
    labels: {}
  scan:
    backend: trivy
    thresholds:
      critical: 0
      high: 0
      medium: 5
      low: 10
      other: 10
    sbom:
      tool: syft
      format: cyclonedx-json
  artifacts:
    outputDir: output
    # s3:
    #   bucket: my-ci-artifacts
    #   prefix: my-service
  release:
    region: us-east-1
    repository: team/my-service
    # roleArn: arn:aws:iam::123456789012:role/ci-build
    # deployRoleArn: arn:aws:iam::123456789012:role/ci-deploy
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a sample pipeline file",
	Long:  `Write a commented sample shipgate.yaml into the current directory.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ci.DefaultPipelineFile
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := os.WriteFile(path, []byte(samplePipeline), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Printf("✅ Created %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing pipeline file")
}
