package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the ejtpd server",
		Long: `Authenticate with the ejtpd server using your client ID.
This prints a JWT token that can be passed to later commands with --token.`,
		Args: cobra.NoArgs,
		RunE: runAuth,
	}

	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	if clientID == "" {
		return fmt.Errorf("client-id is required")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Authenticating with server %s as client %s...\n", serverURL, clientID)

	resp, err := client.Authenticate(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Authentication successful!\n")
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "Admin: %t\n", resp.IsAdmin)
	fmt.Fprintf(out, "Expires: %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "\nSave the token for later commands:\n")
	fmt.Fprintf(out, "  export EJTP_TOKEN=\"%s\"\n", resp.Token)

	return nil
}
