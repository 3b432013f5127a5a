package main

import (
	"os"

	"github.com/rustyeddy/sessiond/cmd/sessiond/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
