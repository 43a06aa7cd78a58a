package main

import (
	"os"

	"github.com/huntred/flowbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
