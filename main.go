// main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/enjoyfamily583-dotcom/newredirect/cmd"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/observability"
)

func main() {
	// Cancel the root context on SIGINT or SIGTERM so the server can drain
	// in-flight requests before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)

	// Flush buffered log entries before the process exits.
	observability.Sync()

	if err != nil {
		os.Exit(1)
	}
}
