package docker

import (
	"errors"
	"strings"
	"testing"
)

func TestBuildCommandArgsMinimal(t *testing.T) {
	args := BuildCommandArgs(BuildOptions{})

	if args[0] != "build" {
		t.Errorf("first arg = %q, want build", args[0])
	}
	if args[len(args)-1] != "." {
		t.Errorf("context should default to '.', got %q", args[len(args)-1])
	}
}

func TestBuildCommandArgsFull(t *testing.T) {
	args := BuildCommandArgs(BuildOptions{
		Dockerfile: "deploy/Dockerfile",
		Context:    "/src/app",
		Tags:       []string{"repo:latest", "repo:abc123"},
		Platform:   "linux/amd64",
		BuildArgs:  map[string]string{"COMMIT_SHA": "abc123"},
		Labels:     map[string]string{"org.opencontainers.image.revision": "abc123"},
		CacheFrom:  "/cache/abc123",
		CacheTo:    "/cache/abc123",
	})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-t repo:latest",
		"-t repo:abc123",
		"--platform linux/amd64",
		"-f deploy/Dockerfile",
		"--build-arg COMMIT_SHA=abc123",
		"--label org.opencontainers.image.revision=abc123",
		"--cache-from type=local,src=/cache/abc123",
		"--cache-to type=local,dest=/cache/abc123,mode=max",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	if args[len(args)-1] != "/src/app" {
		t.Errorf("context must be the final argument, got %q", args[len(args)-1])
	}
	if strings.Contains(joined, "push") {
		t.Errorf("build invocation must never push: %s", joined)
	}
}

func TestBuildCommandArgsDeterministic(t *testing.T) {
	opts := BuildOptions{
		BuildArgs: map[string]string{"B": "2", "A": "1", "C": "3"},
		Labels:    map[string]string{"z": "26", "a": "1"},
	}

	first := strings.Join(BuildCommandArgs(opts), " ")
	for i := 0; i < 10; i++ {
		if got := strings.Join(BuildCommandArgs(opts), " "); got != first {
			t.Fatalf("identical inputs produced different commands:\n%s\n%s", first, got)
		}
	}

	if !strings.Contains(first, "--build-arg A=1 --build-arg B=2 --build-arg C=3") {
		t.Errorf("build args not sorted: %s", first)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("exit status 125")
	err := &Error{Command: "push repo:latest", Stderr: "denied", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Error should unwrap to the underlying error")
	}
	if !strings.Contains(err.Error(), "push repo:latest") {
		t.Errorf("Error() should include the command: %v", err)
	}
}

func TestNewClientWithBinary(t *testing.T) {
	c := NewClientWithBinary("/usr/local/bin/docker")
	if c.Binary() != "/usr/local/bin/docker" {
		t.Errorf("Binary() = %q", c.Binary())
	}
}
