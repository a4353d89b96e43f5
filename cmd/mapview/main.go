// Package main provides the entry point for the mapview CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/mapview/cmd/mapview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
