// Package main is the entry point for the remodel CLI.
package main

import (
	"os"

	"github.com/remodel-labs/remodel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
