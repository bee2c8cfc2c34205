// Command ejtpd runs an EJTP router node with its jacks, local clients and
// HTTP admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "ejtpd"

// Set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "EJTP router daemon",
		Long: `ejtpd hosts an EJTP router: it listens on the configured transport jacks,
delivers frames to local clients, forwards them to peers and exposes an
HTTP admin API.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $EJTP_CONFIG, ./ejtpd.yaml, ./configs/ejtpd.yaml or ~/.ejtp/ejtpd.yaml)")

	root.AddCommand(newServeCommand(), newConfigCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s (%s)\n", appName, version, commit)
		},
	}
}
