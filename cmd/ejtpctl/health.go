package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Check the health status of the ejtpd node",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}

	return cmd
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking health of %s...\n", serverURL)

	health, err := client.GetHealth(ctx)
	if err != nil {
		return err
	}

	if health.Healthy {
		fmt.Fprintf(out, "✅ Node %s is healthy!\n", health.NodeID)
	} else {
		fmt.Fprintf(out, "❌ Node %s is not healthy!\n", health.NodeID)
	}
	fmt.Fprintf(out, "Run State: %s\n", health.RunState)
	fmt.Fprintf(out, "Jacks: %d\n", health.Jacks)
	fmt.Fprintf(out, "Clients: %d\n", health.Clients)
	fmt.Fprintf(out, "Connections: %d\n", health.Connections)
	fmt.Fprintf(out, "Message Log: %t (%d entries)\n", health.LogEnabled, health.LogEntries)
	fmt.Fprintf(out, "Uptime: %s\n", health.Uptime)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}

	if !health.Healthy {
		return fmt.Errorf("node is unhealthy: %s", health.Message)
	}
	return nil
}
