// Command tickflow runs the workflow engine: an HTTP server with an
// optional in-process tick schedule, a one-shot tick for external cron,
// and a YAML definition importer.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
