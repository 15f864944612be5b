package ci

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// SourceStage fetches the build inputs and pins the exact revision.
type SourceStage struct {
	pipeline *Pipeline
	workDir  string
}

// NewSourceStage creates a new source stage executor. workDir is where
// remote repositories are cloned.
func NewSourceStage(pipeline *Pipeline, workDir string) *SourceStage {
	return &SourceStage{
		pipeline: pipeline,
		workDir:  workDir,
	}
}

// Execute fetches the source and returns the resolved commit SHA. For a
// local source the pipeline directory must already be a git checkout.
func (s *SourceStage) Execute(ctx context.Context) (string, error) {
	src := s.pipeline.Spec.Source

	checkoutDir := s.pipeline.BaseDir()
	if src.Repository != "" {
		fmt.Printf("📥 Fetching source: %s\n", src.Repository)

		checkoutDir = filepath.Join(s.workDir, "source")
		if err := os.RemoveAll(checkoutDir); err != nil {
			return "", fmt.Errorf("failed to clean checkout directory: %w", err)
		}
		if err := runGit(ctx, "", "clone", src.Repository, checkoutDir); err != nil {
			return "", fmt.Errorf("failed to clone %s: %w", src.Repository, err)
		}
		if src.Commit != "" {
			if err := runGit(ctx, checkoutDir, "checkout", src.Commit); err != nil {
				return "", fmt.Errorf("failed to checkout %s: %w", src.Commit, err)
			}
		}
		s.pipeline.SetBaseDir(checkoutDir)

		dockerfile, err := s.pipeline.ResolveDockerfilePath()
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(dockerfile); os.IsNotExist(err) {
			return "", fmt.Errorf("dockerfile not found after fetch: %s", dockerfile)
		}
	}

	sha, err := resolveCommit(ctx, checkoutDir)
	if err != nil {
		return "", err
	}
	logrus.Debugf("Resolved source revision: %s", sha)
	fmt.Printf("✅ Source ready at %s\n", shortSHA(sha))

	return sha, nil
}

// resolveCommit returns the full SHA of HEAD in dir.
func resolveCommit(ctx context.Context, dir string) (string, error) {
	out, err := gitOutput(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD (is %s a git checkout?): %w", dir, err)
	}
	sha := strings.TrimSpace(out)
	if len(sha) != 40 {
		return "", fmt.Errorf("unexpected rev-parse output: %q", sha)
	}
	return sha, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	_, err := gitOutput(ctx, dir, args...)
	return err
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

// shortSHA abbreviates a commit SHA for display.
func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
