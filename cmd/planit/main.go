// Command planit describes, validates and submits plans of dependent batch
// jobs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
