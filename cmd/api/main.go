// Command identity runs the identity service and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	_ = godotenv.Load()

	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
