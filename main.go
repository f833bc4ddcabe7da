package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger-explorer",
		Short: "Explorer API for a permissioned ledger",
		Long: `Serves blocks, transactions, accounts, domains and asset definitions
from an in-memory mirror that background workers keep in step with the ledger.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the explorer version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
