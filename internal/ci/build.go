package ci

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shipgate/shipgate/internal/docker"
	"github.com/sirupsen/logrus"
)

// lastCacheLink is the name of the symlink pointing at the most recent
// completed cache directory, used when no exact commit key exists.
const lastCacheLink = "last"

// BuildStage builds the container image locally. Nothing is pushed here;
// publishing is a separate stage that runs only after the gate.
type BuildStage struct {
	pipeline *Pipeline
	client   *docker.Client
	commit   string
	endpoint string
}

// NewBuildStage creates a new build stage executor. endpoint is the
// registry host the image tags are formed against.
func NewBuildStage(pipeline *Pipeline, client *docker.Client, endpoint, commit string) *BuildStage {
	return &BuildStage{
		pipeline: pipeline,
		client:   client,
		commit:   commit,
		endpoint: endpoint,
	}
}

// ImageTags returns the full tag set for a build: latest, the commit SHA,
// and any configured extras.
func ImageTags(endpoint, repository, commit string, extra []string) []string {
	base := repository
	if endpoint != "" {
		base = endpoint + "/" + repository
	}
	tags := []string{
		base + ":latest",
		base + ":" + commit,
	}
	for _, t := range extra {
		tags = append(tags, base+":"+t)
	}
	return tags
}

// ImageRef returns the canonical reference for a build, the commit-pinned
// tag. The same string is handed to the scanner and the publisher.
func ImageRef(endpoint, repository, commit string) string {
	if endpoint == "" {
		return repository + ":" + commit
	}
	return endpoint + "/" + repository + ":" + commit
}

// Execute builds the image and returns its canonical reference.
func (s *BuildStage) Execute(ctx context.Context) (string, error) {
	dockerfile, err := s.pipeline.ResolveDockerfilePath()
	if err != nil {
		return "", err
	}
	contextPath, err := s.pipeline.ResolveContextPath()
	if err != nil {
		return "", err
	}

	repository := s.pipeline.Metadata.Name
	var extraTags []string
	if rel := s.pipeline.Spec.Release; rel != nil {
		repository = rel.Repository
		extraTags = rel.ExtraTags
	}

	// The commit is always available inside the build for provenance labels.
	buildArgs := map[string]string{"COMMIT_SHA": s.commit}

	opts := docker.BuildOptions{
		Dockerfile: dockerfile,
		Context:    contextPath,
		Tags:       ImageTags(s.endpoint, repository, s.commit, extraTags),
		BuildArgs:  buildArgs,
	}
	if build := s.pipeline.Spec.Build; build != nil {
		opts.Platform = build.Platform
		for k, v := range build.Args {
			buildArgs[k] = v
		}
		opts.Labels = build.Labels

		if build.CacheDir != "" {
			readDir, writeDir, err := resolveCacheDirs(build.CacheDir, s.commit)
			if err != nil {
				return "", err
			}
			opts.CacheFrom = readDir
			opts.CacheTo = writeDir
		}
	}

	ref := ImageRef(s.endpoint, repository, s.commit)
	fmt.Printf("🔨 Building image: %s\n", ref)
	logrus.Debugf("Build context: %s, Dockerfile: %s", contextPath, dockerfile)

	if err := s.client.Build(ctx, opts); err != nil {
		return "", fmt.Errorf("image build failed: %w", err)
	}

	if build := s.pipeline.Spec.Build; build != nil && build.CacheDir != "" {
		if err := commitCacheLink(build.CacheDir, s.commit); err != nil {
			// Cache bookkeeping must not fail the build.
			logrus.Debugf("Failed to update cache link: %v", err)
		}
	}

	fmt.Printf("✅ Build complete: %s\n", ref)
	return ref, nil
}

// resolveCacheDirs returns the cache directory to read from and the one to
// write to. Reads prefer the exact commit key and fall back to the last
// completed build; a missing read directory disables cache import.
func resolveCacheDirs(cacheRoot, commit string) (read, write string, err error) {
	write = filepath.Join(cacheRoot, commit)
	if err := os.MkdirAll(write, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	read = write
	if empty, _ := isEmptyDir(read); empty {
		fallback := filepath.Join(cacheRoot, lastCacheLink)
		if resolved, err := filepath.EvalSymlinks(fallback); err == nil {
			read = resolved
		} else {
			read = ""
		}
	}
	return read, write, nil
}

// commitCacheLink points the fallback link at the commit's cache directory.
func commitCacheLink(cacheRoot, commit string) error {
	link := filepath.Join(cacheRoot, lastCacheLink)
	tmp := link + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(commit, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, link)
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
