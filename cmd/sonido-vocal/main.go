// Package main is the entry point for the sonido-vocal CLI.
//
// Usage:
//
//	sonido-vocal [flags] <command> [args]
//
// Commands:
//
//	run          - Segment a dataset and extract spectrograms
//	segment      - Segment a dataset without extracting spectrograms
//	spectrogram  - Process a single audio file and print record shapes
//	query        - Resolve and summarize fields for one animal identity
package main

import (
	"fmt"
	"os"

	"github.com/RyanBlaney/sonido-vocal/cmd/sonido-vocal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
