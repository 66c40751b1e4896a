package main

import (
	"os"

	"github.com/go-core-stack/throttle/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
