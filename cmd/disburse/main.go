// Command disburse is the command-line front end of the disbursement
// settlement engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/disburse/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
