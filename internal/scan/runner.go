package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeoutScan bounds a single scanner invocation. The overall pipeline
// timeout still applies on top through the context.
const TimeoutScan = 15 * time.Minute

// Runner is one vulnerability scanner backend.
type Runner interface {
	Name() string
	// Scan analyzes the image reference and returns the finding report.
	Scan(ctx context.Context, imageRef string) (*FindingReport, error)
}

// runCommand executes a scanner command capturing stdout, with stderr
// surfaced on failure.
func runCommand(cmd *exec.Cmd) ([]byte, error) {
	logrus.Debugf("Running: %s", cmd.String())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("command failed: %w\nstderr: %s", err, stderr.String())
		}
		return nil, fmt.Errorf("command failed: %w", err)
	}
	return output, nil
}

// lookupTool resolves a scanner binary on PATH.
func lookupTool(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found on PATH: %w", name, err)
	}
	return path, nil
}

// writeFile persists a scanner artifact, creating it fresh each run.
func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
