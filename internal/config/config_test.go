package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.OutputDir != "output" {
		t.Errorf("OutputDir = %q, want output", cfg.OutputDir)
	}
	if cfg.Timeout != 60*time.Minute {
		t.Errorf("Timeout = %v, want 60m", cfg.Timeout)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `region: us-west-2
repository: team/app
roleArn: arn:aws:iam::123456789012:role/ci
deployRoleArn: arn:aws:iam::123456789012:role/deploy
artifactBucket: ci-artifacts
thresholdCritical: 0
thresholdMedium: 10
timeout: 30m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Region != "us-west-2" {
		t.Errorf("Region = %q", cfg.Region)
	}
	if cfg.DeployRoleARN != "arn:aws:iam::123456789012:role/deploy" {
		t.Errorf("DeployRoleARN = %q", cfg.DeployRoleARN)
	}
	if cfg.ThresholdCritical == nil || *cfg.ThresholdCritical != 0 {
		t.Errorf("ThresholdCritical = %v, want 0", cfg.ThresholdCritical)
	}
	if cfg.ThresholdMedium == nil || *cfg.ThresholdMedium != 10 {
		t.Errorf("ThresholdMedium = %v, want 10", cfg.ThresholdMedium)
	}
	if cfg.ThresholdHigh != nil {
		t.Errorf("ThresholdHigh = %v, want unset", cfg.ThresholdHigh)
	}
	if cfg.Timeout != 30*time.Minute {
		t.Errorf("Timeout = %v, want 30m", cfg.Timeout)
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing explicit file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("region: us-west-2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SHIPGATE_REGION", "eu-central-1")
	t.Setenv("SHIPGATE_THRESHOLD_HIGH", "2")
	t.Setenv("SHIPGATE_TIMEOUT", "45m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Region != "eu-central-1" {
		t.Errorf("Region = %q, env override must win over the file", cfg.Region)
	}
	if cfg.ThresholdHigh == nil || *cfg.ThresholdHigh != 2 {
		t.Errorf("ThresholdHigh = %v, want 2", cfg.ThresholdHigh)
	}
	if cfg.Timeout != 45*time.Minute {
		t.Errorf("Timeout = %v, want 45m", cfg.Timeout)
	}
}

func TestLoadRejectsNonIntegerThresholdEnv(t *testing.T) {
	t.Setenv("SHIPGATE_THRESHOLD_CRITICAL", "lots")

	if _, err := Load(""); err == nil {
		t.Error("Load() accepted a non-integer threshold")
	}
}

func TestLoadRejectsNegativeThresholdEnv(t *testing.T) {
	t.Setenv("SHIPGATE_THRESHOLD_MEDIUM", "-3")

	if _, err := Load(""); err == nil {
		t.Error("Load() accepted a negative threshold from the environment")
	}
}

func TestLoadRejectsNegativeThresholdFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("thresholdLow: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a negative threshold from a config file")
	}
}

func TestLoadInvalidTimeoutIgnored(t *testing.T) {
	t.Setenv("SHIPGATE_TIMEOUT", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timeout != 60*time.Minute {
		t.Errorf("Timeout = %v, want default retained", cfg.Timeout)
	}
}
