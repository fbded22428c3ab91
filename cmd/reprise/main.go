// File: cmd/reprise/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/reprise/cmd"
)

// osExit is swappable so tests can observe exit codes.
var osExit = os.Exit

func main() {
	// Ctrl-C cancels the command context; the record command treats that as
	// "detach and save", everything else as a graceful abort.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
		}
		osExit(1)
	}
}
