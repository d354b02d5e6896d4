package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for torisolate.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torisolate",
		Short: "Fetch URLs through Tor with one circuit per site",
		Long: `torisolate routes HTTP requests through Tor and keeps every site on its
own circuit. Requests to the same registrable domain share a circuit until
its credential expires; requests to different domains never do.

By default, fetch starts an embedded Tor daemon automatically.
Use --external-tor to use an existing Tor proxy instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .torisolate in current directory or XDG config dir)")

	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewResolveCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
