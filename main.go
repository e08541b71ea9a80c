package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/okto-sec/tiksolve/cmd"
)

func main() {
	// Interrupts cancel the run; a held pointer button is still released
	// because the interaction layer detaches from this context for that.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
