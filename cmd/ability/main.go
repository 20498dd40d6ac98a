// Command ability compiles, checks, tests and runs abilities.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ability/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
