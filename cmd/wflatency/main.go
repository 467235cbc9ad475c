package main

import (
	"os"

	"github.com/psantana5/wflatency/cmd/wflatency/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
