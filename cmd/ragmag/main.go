// Command ragmag is the entry point for the manual Q&A system. It provides a
// CLI (via Cobra) for ingesting PDF manuals and asking questions, and an
// HTTP server with a web UI for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/ragmag/ragmag-go/cmd/ragmag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
