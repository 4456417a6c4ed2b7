// Command research-cli dispatches research jobs and follows them to completion.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err)) //nolint:forbidigo // CLI must propagate command failure to callers
	}
}

// errJobUnsuccessful marks a job that was observed but did not complete.
var errJobUnsuccessful = errors.New("job did not complete")

func exitCode(err error) int {
	if errors.Is(err, errJobUnsuccessful) {
		return 3
	}
	return 1
}
