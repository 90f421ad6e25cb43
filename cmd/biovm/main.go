// Command biovm runs, replays, and validates biological virtual machine
// campaigns. The three subcommands and their exit codes follow spec §6:
// 0 success, 1 runtime error, 2 invariant violation, 3 IO/persistence
// error, 4 audit-degraded refusal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "biovm",
		Short:         "Biological virtual machine and epistemic control core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd(), newReplayCmd(), newValidateCmd())
	return cmd
}
