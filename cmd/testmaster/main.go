package main

import (
	"os"

	"github.com/testmaster/testmaster/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
