// Package config handles shipgate host configuration: defaults, layered
// config files, and SHIPGATE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config file locations, merged in order. Later files win, and the
// environment wins over all files.
const (
	systemConfigPath = "/etc/shipgate/config.yaml"
	userConfigDir    = "shipgate"
	userConfigFile   = "config.yaml"
)

// Config represents host-level shipgate configuration. Values here
// override the corresponding pipeline file settings.
type Config struct {
	// Region is the AWS region for the registry and artifact sessions.
	Region string `yaml:"region,omitempty"`
	// Repository overrides the release repository.
	Repository string `yaml:"repository,omitempty"`
	// RoleARN is the initial OIDC-assumable role.
	RoleARN string `yaml:"roleArn,omitempty"`
	// DeployRoleARN is the chained deployment role.
	DeployRoleARN string `yaml:"deployRoleArn,omitempty"`
	// WebIdentityTokenFile holds the OIDC token for the initial role.
	WebIdentityTokenFile string `yaml:"webIdentityTokenFile,omitempty"`
	// ArtifactBucket receives scan outputs.
	ArtifactBucket string `yaml:"artifactBucket,omitempty"`
	// OutputDir holds local scan outputs.
	OutputDir string `yaml:"outputDir,omitempty"`
	// Timeout bounds a full pipeline run.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Thresholds override the pipeline's severity limits when set.
	ThresholdCritical *int `yaml:"thresholdCritical,omitempty"`
	ThresholdHigh     *int `yaml:"thresholdHigh,omitempty"`
	ThresholdMedium   *int `yaml:"thresholdMedium,omitempty"`
	ThresholdLow      *int `yaml:"thresholdLow,omitempty"`
	ThresholdOther    *int `yaml:"thresholdOther,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputDir: "output",
		Timeout:   60 * time.Minute,
	}
}

// Load builds the effective configuration: defaults, then the system and
// user config files, then an explicit file from SHIPGATE_CONFIG or the
// given path, then environment overrides.
func Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	paths := []string{systemConfigPath}
	if home, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(home, userConfigDir, userConfigFile))
	}
	if env := os.Getenv("SHIPGATE_CONFIG"); env != "" {
		paths = append(paths, env)
	}
	if explicitPath != "" {
		paths = append(paths, explicitPath)
	}

	for _, path := range paths {
		if err := mergeFile(cfg, path, path == explicitPath || path == os.Getenv("SHIPGATE_CONFIG")); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects malformed threshold overrides. Runs at load time so a
// bad value fails the run before any stage.
func (c *Config) Validate() error {
	limits := []struct {
		name  string
		value *int
	}{
		{"critical", c.ThresholdCritical},
		{"high", c.ThresholdHigh},
		{"medium", c.ThresholdMedium},
		{"low", c.ThresholdLow},
		{"other", c.ThresholdOther},
	}
	for _, l := range limits {
		if l.value != nil && *l.value < 0 {
			return fmt.Errorf("threshold for %s must be a non-negative integer, got %d", l.name, *l.value)
		}
	}
	return nil
}

// mergeFile merges one config file into cfg. Missing files are skipped
// unless the path was explicitly requested.
func mergeFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	logrus.Debugf("Loaded config file: %s", path)
	return nil
}

// applyEnv applies SHIPGATE_* environment variable overrides. Threshold
// values must parse as integers; a typo cannot silently loosen the gate.
func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("SHIPGATE_REGION", &cfg.Region)
	setString("SHIPGATE_REPOSITORY", &cfg.Repository)
	setString("SHIPGATE_ROLE_ARN", &cfg.RoleARN)
	setString("SHIPGATE_DEPLOY_ROLE_ARN", &cfg.DeployRoleARN)
	setString("SHIPGATE_WEB_IDENTITY_TOKEN_FILE", &cfg.WebIdentityTokenFile)
	setString("SHIPGATE_ARTIFACT_BUCKET", &cfg.ArtifactBucket)
	setString("SHIPGATE_OUTPUT_DIR", &cfg.OutputDir)

	if v := os.Getenv("SHIPGATE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		} else {
			logrus.Warnf("Ignoring invalid SHIPGATE_TIMEOUT: %q", v)
		}
	}

	setThreshold := func(key string, dst **int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		*dst = &n
		return nil
	}
	thresholds := []struct {
		key string
		dst **int
	}{
		{"SHIPGATE_THRESHOLD_CRITICAL", &cfg.ThresholdCritical},
		{"SHIPGATE_THRESHOLD_HIGH", &cfg.ThresholdHigh},
		{"SHIPGATE_THRESHOLD_MEDIUM", &cfg.ThresholdMedium},
		{"SHIPGATE_THRESHOLD_LOW", &cfg.ThresholdLow},
		{"SHIPGATE_THRESHOLD_OTHER", &cfg.ThresholdOther},
	}
	for _, t := range thresholds {
		if err := setThreshold(t.key, t.dst); err != nil {
			return err
		}
	}
	return nil
}
