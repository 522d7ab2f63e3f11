// Package main provides the geeksw command.
package main

import (
	"os"

	"github.com/guitargeek/geeksw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
