package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/httpclient"
)

func newLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Read the router's message log",
		Long: `Read entries from the router's message log. Every frame handed to the
router is recorded in arrival order while logging is enabled.`,
		Args: cobra.NoArgs,
		RunE: runLog,
	}

	cmd.Flags().Int64("offset", 0, "first entry to read")
	cmd.Flags().Int("limit", 0, "maximum entries to read (server default when 0)")
	cmd.Flags().Bool("base64", false, "print entries base64 encoded")

	return cmd
}

func runLog(cmd *cobra.Command, args []string) error {
	offset, _ := cmd.Flags().GetInt64("offset")
	limit, _ := cmd.Flags().GetInt("limit")
	isBase64, _ := cmd.Flags().GetBool("base64")
	if offset < 0 {
		return fmt.Errorf("offset must be non-negative")
	}

	encoding := httpclient.EncodingText
	if isBase64 {
		encoding = httpclient.EncodingBase64
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	resp, err := client.ReadLog(ctx, offset, limit, encoding)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !resp.Enabled {
		fmt.Fprintln(out, "⚠️  Message logging is disabled on this node")
	}
	if len(resp.Entries) == 0 {
		fmt.Fprintf(out, "No entries from offset %d (%d total)\n", resp.StartOffset, resp.Total)
		return nil
	}

	fmt.Fprintf(out, "Showing %d of %d entries from offset %d:\n\n", resp.Count, resp.Total, resp.StartOffset)
	for _, e := range resp.Entries {
		fmt.Fprintf(out, "%6d  %s  %q\n", e.Offset, e.Timestamp.Format("15:04:05.000"), e.Message)
	}
	return nil
}
