package ci

import (
	"context"
	"errors"
	"testing"

	"github.com/shipgate/shipgate/internal/gate"
)

// driverRecorder wires fake stages into a Driver and records calls.
type driverRecorder struct {
	calls       []string
	scannedRef  string
	publishRef  string
	scanErr     error
	artifactErr error
	decision    gate.Decision
}

func (r *driverRecorder) driver() *Driver {
	return &Driver{
		Setup: func(ctx context.Context) error {
			r.calls = append(r.calls, "setup")
			return nil
		},
		Credentials: func(ctx context.Context) error {
			r.calls = append(r.calls, "credentials")
			return nil
		},
		Registry: func(ctx context.Context) (string, error) {
			r.calls = append(r.calls, "registry")
			return "registry.example.com", nil
		},
		Fetch: func(ctx context.Context) (string, error) {
			r.calls = append(r.calls, "fetch")
			return testCommit, nil
		},
		Build: func(ctx context.Context, endpoint, commit string) (string, []string, error) {
			r.calls = append(r.calls, "build")
			ref := ImageRef(endpoint, "team/app", commit)
			return ref, ImageTags(endpoint, "team/app", commit, nil), nil
		},
		Scan: func(ctx context.Context, imageRef string) (gate.Decision, error) {
			r.calls = append(r.calls, "scan")
			r.scannedRef = imageRef
			return r.decision, r.scanErr
		},
		Artifacts: func(ctx context.Context, imageRef string) error {
			r.calls = append(r.calls, "artifacts")
			return r.artifactErr
		},
		Publish: func(ctx context.Context, imageRef string, tags []string) error {
			r.calls = append(r.calls, "publish")
			r.publishRef = imageRef
			return nil
		},
	}
}

func (r *driverRecorder) called(name string) bool {
	for _, c := range r.calls {
		if c == name {
			return true
		}
	}
	return false
}

func TestDriverRunPublishesOnPassedGate(t *testing.T) {
	rec := &driverRecorder{}

	result, err := rec.driver().Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantOrder := []string{"fetch", "setup", "credentials", "registry", "build", "scan", "artifacts", "publish"}
	if len(rec.calls) != len(wantOrder) {
		t.Fatalf("calls = %v, want %v", rec.calls, wantOrder)
	}
	for i := range wantOrder {
		if rec.calls[i] != wantOrder[i] {
			t.Errorf("calls[%d] = %q, want %q", i, rec.calls[i], wantOrder[i])
		}
	}
	if !result.Published {
		t.Error("result.Published = false, want true")
	}
}

func TestDriverRunScannerAndPublisherSeeSameRef(t *testing.T) {
	rec := &driverRecorder{}

	result, err := rec.driver().Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.scannedRef == "" {
		t.Fatal("scanner never received an image reference")
	}
	if rec.scannedRef != rec.publishRef {
		t.Errorf("scanned ref %q differs from published ref %q", rec.scannedRef, rec.publishRef)
	}
	if result.ImageRef != rec.scannedRef {
		t.Errorf("result.ImageRef = %q, want %q", result.ImageRef, rec.scannedRef)
	}
}

func TestDriverRunFailedGateUploadsButDoesNotPublish(t *testing.T) {
	rec := &driverRecorder{
		decision: gate.Decision{Violations: []gate.Violation{
			{Severity: gate.SeverityCritical, Observed: 1, Allowed: 0},
		}},
	}

	result, err := rec.driver().Run(context.Background())
	if !errors.Is(err, gate.ErrThresholdExceeded) {
		t.Fatalf("Run() error = %v, want ErrThresholdExceeded", err)
	}

	if !rec.called("artifacts") {
		t.Error("artifacts were not uploaded after a failed gate")
	}
	if rec.called("publish") {
		t.Error("publish ran despite a failed gate")
	}
	if result == nil || result.Published {
		t.Error("result should report not published")
	}
}

func TestDriverRunFailedGateAndArtifactsJoinsErrors(t *testing.T) {
	uploadErr := errors.New("bucket unreachable")
	rec := &driverRecorder{
		decision: gate.Decision{Violations: []gate.Violation{
			{Severity: gate.SeverityHigh, Observed: 3, Allowed: 0},
		}},
		artifactErr: uploadErr,
	}

	_, err := rec.driver().Run(context.Background())
	if !errors.Is(err, gate.ErrThresholdExceeded) {
		t.Errorf("Run() error %v does not wrap ErrThresholdExceeded", err)
	}
	if !errors.Is(err, uploadErr) {
		t.Errorf("Run() error %v does not wrap the upload error", err)
	}
}

func TestDriverRunArtifactsFailureBlocksPublish(t *testing.T) {
	uploadErr := errors.New("bucket unreachable")
	rec := &driverRecorder{artifactErr: uploadErr}

	_, err := rec.driver().Run(context.Background())
	if !errors.Is(err, uploadErr) {
		t.Fatalf("Run() error = %v, want upload error", err)
	}
	if rec.called("publish") {
		t.Error("publish ran despite failed artifact upload")
	}
}

func TestDriverRunScanFailureStopsBeforeArtifacts(t *testing.T) {
	scanErr := errors.New("scanner crashed")
	rec := &driverRecorder{scanErr: scanErr}

	_, err := rec.driver().Run(context.Background())
	if !errors.Is(err, scanErr) {
		t.Fatalf("Run() error = %v, want scan error", err)
	}
	if rec.called("artifacts") || rec.called("publish") {
		t.Errorf("later stages ran after scan failure: %v", rec.calls)
	}
}

func TestDriverRunEarlyStageFailsFast(t *testing.T) {
	credErr := errors.New("role chain denied")
	rec := &driverRecorder{}
	d := rec.driver()
	d.Credentials = func(ctx context.Context) error {
		rec.calls = append(rec.calls, "credentials")
		return credErr
	}

	_, err := d.Run(context.Background())
	if !errors.Is(err, credErr) {
		t.Fatalf("Run() error = %v, want credential error", err)
	}
	for _, stage := range []string{"build", "scan", "artifacts", "publish"} {
		if rec.called(stage) {
			t.Errorf("%s ran after credential failure", stage)
		}
	}
}

func TestDriverRunMissingRequiredStages(t *testing.T) {
	d := &Driver{}
	if _, err := d.Run(context.Background()); err == nil {
		t.Error("Run() expected error for missing stages")
	}
}

func TestDriverRunPublishWithoutScanRejected(t *testing.T) {
	rec := &driverRecorder{}
	d := rec.driver()
	d.Scan = nil

	if _, err := d.Run(context.Background()); err == nil {
		t.Error("Run() expected error for publish without scan")
	}
	if len(rec.calls) != 0 {
		t.Errorf("stages ran despite invalid wiring: %v", rec.calls)
	}
}

func TestDriverRunBuildOnly(t *testing.T) {
	rec := &driverRecorder{}
	d := rec.driver()
	d.Scan = nil
	d.Artifacts = nil
	d.Publish = nil

	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Published {
		t.Error("build-only run reported as published")
	}
	if result.ImageRef == "" {
		t.Error("build-only run produced no image reference")
	}
}
