package ci

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shipgate/shipgate/internal/gate"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a full pipeline run.
const DefaultTimeout = 60 * time.Minute

// Result captures what a pipeline run produced.
type Result struct {
	Commit   string
	ImageRef string
	Tags     []string
	Decision gate.Decision
	// Published is true only when the release stage completed.
	Published bool
}

// Driver executes the pipeline stages in order. Stage functions are fields
// so the command layer wires real executors and tests wire fakes.
//
// Fetch and Build are required. The other stages may be nil and are then
// skipped, except that Publish without Scan is rejected: nothing ships
// unscanned.
type Driver struct {
	Timeout time.Duration

	// Setup verifies the builder toolchain is usable.
	Setup func(ctx context.Context) error
	// Credentials establishes the cloud session and fails fast when the
	// role chain cannot be assumed.
	Credentials func(ctx context.Context) error
	// Registry opens a registry session and returns the endpoint host.
	Registry func(ctx context.Context) (string, error)
	// Fetch obtains the source and returns the resolved commit SHA.
	Fetch func(ctx context.Context) (string, error)
	// Build produces the image and returns its canonical reference plus
	// the full tag set. Nothing is pushed.
	Build func(ctx context.Context, endpoint, commit string) (string, []string, error)
	// Scan evaluates imageRef against the severity thresholds.
	Scan func(ctx context.Context, imageRef string) (gate.Decision, error)
	// Artifacts uploads the scan outputs. It runs regardless of the gate
	// outcome and receives the built image reference for optional image
	// archiving.
	Artifacts func(ctx context.Context, imageRef string) error
	// Publish pushes the tags built earlier. imageRef is the same string
	// the scanner saw.
	Publish func(ctx context.Context, imageRef string, tags []string) error
}

// Run executes the pipeline. Stages before the scan fail fast. After the
// scan, artifacts are uploaded whether or not the gate passed; a failed
// gate then aborts the run before publishing.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.Fetch == nil || d.Build == nil {
		return nil, errors.New("driver is missing required stages")
	}
	if d.Scan == nil && d.Publish != nil {
		return nil, errors.New("publishing requires a scan stage")
	}

	result := &Result{}
	start := time.Now()

	var err error
	result.Commit, err = d.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if d.Setup != nil {
		if err := d.Setup(ctx); err != nil {
			return nil, err
		}
	}

	if d.Credentials != nil {
		if err := d.Credentials(ctx); err != nil {
			return nil, err
		}
	}

	var endpoint string
	if d.Registry != nil {
		endpoint, err = d.Registry(ctx)
		if err != nil {
			return nil, err
		}
	}

	result.ImageRef, result.Tags, err = d.Build(ctx, endpoint, result.Commit)
	if err != nil {
		return nil, err
	}

	if d.Scan != nil {
		result.Decision, err = d.Scan(ctx, result.ImageRef)
		if err != nil {
			return nil, err
		}
	}

	// Scan outputs are retained even when the gate will abort the run.
	var artifactsErr error
	if d.Artifacts != nil {
		artifactsErr = d.Artifacts(ctx, result.ImageRef)
		if artifactsErr != nil {
			logrus.Errorf("Artifact retention failed: %v", artifactsErr)
		}
	}

	if !result.Decision.Passed() {
		return result, errors.Join(result.Decision.Err(), artifactsErr)
	}
	if artifactsErr != nil {
		return result, artifactsErr
	}

	if d.Publish != nil {
		if err := d.Publish(ctx, result.ImageRef, result.Tags); err != nil {
			return result, err
		}
		result.Published = true
	}

	fmt.Printf("🎉 Pipeline complete in %s\n", time.Since(start).Round(time.Second))
	return result, nil
}
