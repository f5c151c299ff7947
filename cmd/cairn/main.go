package main

import (
	"fmt"
	"os"

	"github.com/cairndb/cairn/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cairn: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
