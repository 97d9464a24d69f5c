// Command servis runs the command orchestrator: the voice-first assistant
// core that classifies commands, keeps conversational context, and routes
// work to downstream services.
package main

import (
	"context"
	"fmt"
	"os"

	"servis/internal/app"
)

// Exit codes: 0 clean shutdown, 1 fatal initialization error, 2 fatal
// runtime error.
const (
	exitOK      = 0
	exitInit    = 1
	exitRuntime = 2
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitInit)
	}
}

func run(ctx context.Context, container *app.Container) int {
	if err := container.Run(ctx); err != nil {
		container.Logger.Error("orchestrator failed", "error", err)
		return exitRuntime
	}
	return exitOK
}
