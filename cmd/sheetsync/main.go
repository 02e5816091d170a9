// Package main provides the sheetsync CLI.
//
// sheetsync connects to an agent server, mirrors the tables it streams and
// uploads files for processing. It is mainly a debugging aid for agent
// deployments.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
