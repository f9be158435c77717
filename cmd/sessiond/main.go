// Package main provides the entry point for the sessiond CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sessionkit/sessionkit/cmd/sessiond/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
