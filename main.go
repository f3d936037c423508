package main

import (
	"os"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
