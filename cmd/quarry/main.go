// Package main provides the quarry command line interface.
package main

import (
	"fmt"
	"os"

	"github.com/quarrylabs/quarry/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
