package main

import (
	"os"

	"github.com/austindbirch/tml_hook/cmd/tmlctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
