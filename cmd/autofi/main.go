package main

import (
	"os"

	"github.com/psantana5/autofi/cmd/autofi/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
