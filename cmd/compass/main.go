package main

import (
	"os"

	"github.com/compass-investigate/compass/cmd/compass/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
