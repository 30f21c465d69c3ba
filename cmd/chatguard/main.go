package main

import (
	"os"

	"github.com/custodia-labs/chatguard/internal/adapters/driving/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
