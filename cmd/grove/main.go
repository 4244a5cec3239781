// Command grove is the local-first garden CLI. It records actions in a local
// event log and syncs that log with a shared remote store.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/grove/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || !exitErr.Reported {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
