// The stagehand command provisions reproducible project workspaces.
package main

import (
	"os"

	"github.com/stagehand/stagehand/pkg/cli"
)

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		// Cobra already printed the error
		os.Exit(1)
	}
}
