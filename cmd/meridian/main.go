// Command meridian runs the business-intelligence analysis gateway: an HTTP
// API, an optional Slack bot, and an optional MCP tool server over a shared
// reasoning pipeline, plus a one-shot ask mode for the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Best effort; absent .env files are fine.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
