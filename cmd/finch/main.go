package main

import (
	"os"

	"github.com/finchwork/finch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
