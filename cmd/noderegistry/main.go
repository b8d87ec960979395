// Command noderegistry runs the node registry daemon and talks to it.
package main

import (
	"context"
	"fmt"
	"os"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	root.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
