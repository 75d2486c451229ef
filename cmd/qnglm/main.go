package main

import (
	"os"

	"github.com/YuminosukeSato/qnglm/cmd/qnglm/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
