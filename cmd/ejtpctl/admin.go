package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/node"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Show registered jacks, connections and clients (admin)",
		Long:  "Display the router's jack and client tables. Requires admin privileges.",
		Args:  cobra.NoArgs,
		RunE:  runRoutes,
	}

	return cmd
}

func newRunStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runstate",
		Short: "Show or change the router run state (admin)",
		Args:  cobra.NoArgs,
		RunE:  runGetRunState,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the router run state",
		Args:  cobra.NoArgs,
		RunE:  runGetRunState,
	})
	cmd.AddCommand(&cobra.Command{
		Use:       "set <state>",
		Short:     "Change the router run state",
		Long:      "Change the router run state to stopped or threaded.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: runStates(),
		RunE:      runSetRunState,
	})

	return cmd
}

func runStates() []string {
	return []string{router.Stopped.String(), router.Threaded.String()}
}

func runRoutes(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	routes, err := client.AdminRoutes(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run State: %s\n\n", routes.RunState)

	if len(routes.Jacks) == 0 {
		fmt.Fprintln(out, "No jacks registered")
	} else {
		fmt.Fprintf(out, "Jacks (%d):\n", len(routes.Jacks))
		for i, j := range routes.Jacks {
			fmt.Fprintf(out, "%d. %s  %s\n", i+1, j.Kind, j.Interface)
			printConnections(out, j.Connections)
		}
	}

	fmt.Fprintln(out)
	if len(routes.Clients) == 0 {
		fmt.Fprintln(out, "No clients registered")
		return nil
	}
	fmt.Fprintf(out, "Clients (%d):\n", len(routes.Clients))
	for i, c := range routes.Clients {
		name := c.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(out, "%d. %s  %s  pending=%d\n", i+1, name, c.Interface, c.Pending)
	}
	return nil
}

func printConnections(out io.Writer, conns []node.ConnectionStatus) {
	if len(conns) == 0 {
		fmt.Fprintln(out, "   no connections")
		return
	}
	for _, c := range conns {
		fmt.Fprintf(out, "   %s  %s  frames in/out=%d/%d  bytes in/out=%d/%d\n",
			c.Label, c.State, c.FramesIn, c.FramesOut, c.BytesIn, c.BytesOut)
	}
}

func runGetRunState(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	resp, err := client.AdminGetRunState(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run State: %s\n", resp.State)
	return nil
}

func runSetRunState(cmd *cobra.Command, args []string) error {
	state, err := router.ParseRunState(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	resp, err := client.AdminSetRunState(ctx, state.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Run State: %s\n", resp.State)
	return nil
}
