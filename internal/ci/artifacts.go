package ci

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shipgate/shipgate/internal/bundle"
	"github.com/sirupsen/logrus"
)

// BundleFileName is the name of the encoded artifact bundle.
const BundleFileName = "artifacts.bundle"

// ArtifactStore uploads artifact files to durable storage.
type ArtifactStore interface {
	UploadFiles(ctx context.Context, prefix string, paths []string) error
}

// ArtifactsStage bundles scan outputs and uploads them. It runs on every
// pipeline execution, including ones where the gate failed.
type ArtifactsStage struct {
	outputDir string
	store     ArtifactStore
	prefix    string
}

// NewArtifactsStage creates a new artifacts stage executor. store may be
// nil, in which case artifacts are only retained locally.
func NewArtifactsStage(outputDir string, store ArtifactStore, prefix string) *ArtifactsStage {
	return &ArtifactsStage{
		outputDir: outputDir,
		store:     store,
		prefix:    prefix,
	}
}

// Execute bundles everything in the output directory and uploads the
// individual files plus the bundle.
func (s *ArtifactsStage) Execute(ctx context.Context) error {
	paths, err := collectArtifacts(s.outputDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		logrus.Debugf("No artifacts found in %s", s.outputDir)
		return nil
	}

	b := bundle.New()
	for _, p := range paths {
		if err := b.AddFile(p); err != nil {
			return err
		}
	}

	bundlePath := filepath.Join(s.outputDir, BundleFileName)
	if err := bundle.WriteFile(bundlePath, b); err != nil {
		return err
	}
	fmt.Print(b.Summary())

	if s.store == nil {
		logrus.Debugf("No artifact store configured, keeping %d files locally", len(paths))
		return nil
	}

	fmt.Printf("📦 Uploading %d artifact files\n", len(paths)+1)
	if err := s.store.UploadFiles(ctx, s.prefix, append(paths, bundlePath)); err != nil {
		return fmt.Errorf("artifact upload failed: %w", err)
	}
	fmt.Printf("✅ Artifacts uploaded\n")
	return nil
}

// collectArtifacts returns the regular files in dir, sorted by name. The
// bundle itself is excluded so re-runs do not nest bundles.
func collectArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == BundleFileName {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
