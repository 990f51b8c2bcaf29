// Command vaultsync runs the prize vault inventory reconciliation worker.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/vaultsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vaultsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
