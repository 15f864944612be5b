package ci

import (
	"context"
	"fmt"

	"github.com/shipgate/shipgate/internal/docker"
	"github.com/sirupsen/logrus"
)

// ReleaseStage pushes the previously built image tags. It never rebuilds;
// the bits the scanner approved are the bits that ship.
type ReleaseStage struct {
	client *docker.Client
	tags   []string
}

// NewReleaseStage creates a new release stage executor for the given tags.
func NewReleaseStage(client *docker.Client, tags []string) *ReleaseStage {
	return &ReleaseStage{
		client: client,
		tags:   tags,
	}
}

// Execute pushes every tag, verifying each exists locally first.
func (s *ReleaseStage) Execute(ctx context.Context) error {
	for _, tag := range s.tags {
		if !s.client.ImageExists(ctx, tag) {
			return fmt.Errorf("image %s not found locally, build stage must run first", tag)
		}
	}

	for _, tag := range s.tags {
		fmt.Printf("🚀 Pushing %s\n", tag)
		if err := s.client.Push(ctx, tag); err != nil {
			return fmt.Errorf("failed to push %s: %w", tag, err)
		}
		logrus.Debugf("Pushed %s", tag)
	}

	fmt.Printf("✅ Published %d tags\n", len(s.tags))
	return nil
}
