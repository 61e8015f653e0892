// Package main is the entry point for the hap application.
package main

import (
	"os"

	"github.com/dugoutlabs/hap/cmd/hap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
