package main

import (
	"os"

	"github.com/gezibash/up4w/cmd/up4w/render"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		render.Error(os.Stderr, describe(err))
		os.Exit(1)
	}
}
