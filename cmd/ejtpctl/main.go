// Command ejtpctl talks to an ejtpd node over its HTTP admin API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/httpclient"
)

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ejtpctl",
		Short: "ejtpd HTTP API command line interface",
		Long: `ejtpctl is a command line interface for the ejtpd HTTP API.
It can inject frames into a router, read the message log and inspect or
change the router's run state and routing tables.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("EJTP_SERVER", "http://localhost:8081"), "ejtpd HTTP API URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", os.Getenv("EJTP_CLIENT_ID"), "client ID to log in as (use \"admin\" for admin commands)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("EJTP_TOKEN"), "JWT token from a previous 'ejtpctl auth'")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newLogCommand())
	rootCmd.AddCommand(newRoutesCommand())
	rootCmd.AddCommand(newRunStateCommand())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  clientID,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	}
	return nil
}

// requireAuthentication makes sure the client holds a token, logging in
// with --client-id when no --token was given.
func requireAuthentication(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if client.IsAuthenticated() {
		return nil
	}
	if clientID == "" {
		return fmt.Errorf("not authenticated - provide --token or --client-id")
	}
	if _, err := client.Authenticate(ctx); err != nil {
		return err
	}
	return nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}
