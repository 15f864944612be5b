// Package docker wraps the docker (or podman) CLI. The image builder is an
// external collaborator; every operation here shells out to it.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Error represents an error from builder command execution.
type Error struct {
	Command string
	Stderr  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("docker %s failed: %v", e.Command, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client wraps builder CLI commands.
type Client struct {
	binary string
}

// NewClient locates the builder binary. Docker is preferred, podman is the
// fallback; both accept the same subcommand surface used here.
func NewClient() (*Client, error) {
	binary, err := findBuilder()
	if err != nil {
		return nil, err
	}
	return &Client{binary: binary}, nil
}

// NewClientWithBinary returns a client bound to an explicit binary path.
func NewClientWithBinary(binary string) *Client {
	return &Client{binary: binary}
}

// Binary returns the resolved builder binary path.
func (c *Client) Binary() string {
	return c.binary
}

func findBuilder() (string, error) {
	for _, name := range []string{"docker", "podman"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no container builder found (docker or podman)")
}

// run executes a builder command and returns stdout.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	logrus.Debugf("Running: %s %s", c.binary, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &Error{
			Command: strings.Join(args, " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// runStreaming executes a builder command with output attached to the
// terminal, for long-running operations (build, push) where progress matters.
func (c *Client) runStreaming(ctx context.Context, args ...string) error {
	logrus.Debugf("Running: %s %s", c.binary, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return &Error{
			Command: strings.Join(args, " "),
			Err:     err,
		}
	}
	return nil
}

// BuildOptions contains options for building an image. The build never
// pushes: publishing is a separate operation so the scanned artifact is the
// published artifact.
type BuildOptions struct {
	Dockerfile string
	Context    string
	Tags       []string
	Platform   string
	BuildArgs  map[string]string
	Labels     map[string]string
	// CacheFrom/CacheTo are local layer cache directories. Cache reads are
	// best effort: a cold cache slows the build but never fails it.
	CacheFrom string
	CacheTo   string
}

// BuildCommandArgs constructs the argument list for a build invocation.
// Pure function, split out for unit testing.
func BuildCommandArgs(opts BuildOptions) []string {
	args := []string{"build"}

	for _, tag := range opts.Tags {
		args = append(args, "-t", tag)
	}

	if opts.Platform != "" {
		args = append(args, "--platform", opts.Platform)
	}

	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}

	// Sorted for deterministic invocations: identical inputs must produce
	// an identical build command.
	for _, key := range sortedKeys(opts.BuildArgs) {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", key, opts.BuildArgs[key]))
	}
	for _, key := range sortedKeys(opts.Labels) {
		args = append(args, "--label", fmt.Sprintf("%s=%s", key, opts.Labels[key]))
	}

	if opts.CacheFrom != "" {
		args = append(args, "--cache-from", fmt.Sprintf("type=local,src=%s", opts.CacheFrom))
	}
	if opts.CacheTo != "" {
		args = append(args, "--cache-to", fmt.Sprintf("type=local,dest=%s,mode=max", opts.CacheTo))
	}

	context := opts.Context
	if context == "" {
		context = "."
	}
	args = append(args, context)

	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build builds an image locally without pushing.
func (c *Client) Build(ctx context.Context, opts BuildOptions) error {
	return c.runStreaming(ctx, BuildCommandArgs(opts)...)
}

// Push transmits a previously built tag to its registry.
func (c *Client) Push(ctx context.Context, ref string) error {
	return c.runStreaming(ctx, "push", ref)
}

// ImageExists checks whether a tag is present in local storage.
func (c *Client) ImageExists(ctx context.Context, ref string) bool {
	_, err := c.run(ctx, "image", "inspect", ref)
	return err == nil
}

// Save exports an image to a docker-archive tarball, for scanners that read
// archives instead of the local store.
func (c *Client) Save(ctx context.Context, ref, path string) error {
	_, err := c.run(ctx, "save", "-o", path, ref)
	return err
}

// Login authenticates the builder to a registry. The password goes over
// stdin, never argv.
func (c *Client) Login(ctx context.Context, registry, username, password string) error {
	args := []string{"login", "--username", username, "--password-stdin", registry}
	logrus.Debugf("Running: %s login --username %s --password-stdin %s", c.binary, username, registry)

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdin = strings.NewReader(password)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &Error{
			Command: fmt.Sprintf("login %s", registry),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return nil
}

// Version returns the builder client version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "version", "--format", "{{.Client.Version}}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
