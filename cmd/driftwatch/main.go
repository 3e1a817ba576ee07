package main

import (
	"os"

	"github.com/roasbeef/driftwatch/cmd/driftwatch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
