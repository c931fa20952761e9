package main

import (
	"os"

	"github.com/ppiankov/postcast/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
