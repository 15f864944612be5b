package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shipgate/shipgate/internal/docker"
	"github.com/shipgate/shipgate/internal/gate"
)

var version = "dev"

func main() {
	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := ExecuteWithContext(ctx); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes a failed vulnerability gate from infrastructure
// failures so CI jobs can branch on the result.
func exitCode(err error) int {
	if errors.Is(err, gate.ErrThresholdExceeded) {
		return 2
	}
	return 1
}

// printError formats errors, surfacing container engine stderr when present.
func printError(err error) {
	var dockerErr *docker.Error
	if errors.As(err, &dockerErr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		if dockerErr.Stderr != "" {
			fmt.Fprintf(os.Stderr, "\nEngine stderr:\n  %s\n", dockerErr.Stderr)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
