package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/address"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/httpclient"
)

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Inject a frame into the router",
		Long: `Inject a frame into the router, either as a complete wire frame or built
from a destination address and content.

Examples:
  ejtpctl --client-id alice send --to '["tcp",["127.0.0.1",9000],"bob"]' --content hello
  ejtpctl --client-id alice send --to '["tcp",["127.0.0.1",9000],"bob"]' --file payload.bin
  ejtpctl --client-id alice send --base64 --frame "$(printf 'r["tcp",["127.0.0.1",9000],"bob"]\0hi' | base64)"`,
		Args: cobra.NoArgs,
		RunE: runSend,
	}

	cmd.Flags().String("to", "", "destination address as a JSON array")
	cmd.Flags().String("type", "r", "frame type: r (route) or s (receipt)")
	cmd.Flags().String("content", "", "frame content")
	cmd.Flags().String("file", "", "read frame content from a file")
	cmd.Flags().String("frame", "", "complete wire frame; overrides --to and --content")
	cmd.Flags().Bool("base64", false, "--content or --frame is base64 encoded")
	cmd.MarkFlagsMutuallyExclusive("content", "file")
	cmd.MarkFlagsMutuallyExclusive("frame", "to")

	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	req, err := buildDeliverRequest(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := requireAuthentication(ctx); err != nil {
		return err
	}

	resp, err := client.DeliverFrame(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch resp.Result {
	case "routed", "receipt":
		fmt.Fprintf(out, "✅ Frame %s (%d bytes)\n", resp.Result, resp.Bytes)
		return nil
	default:
		fmt.Fprintf(out, "❌ Frame not delivered: %s (%d bytes)\n", resp.Result, resp.Bytes)
		return fmt.Errorf("delivery result: %s", resp.Result)
	}
}

func buildDeliverRequest(cmd *cobra.Command) (httpclient.DeliverRequest, error) {
	flags := cmd.Flags()
	to, _ := flags.GetString("to")
	typ, _ := flags.GetString("type")
	content, _ := flags.GetString("content")
	file, _ := flags.GetString("file")
	raw, _ := flags.GetString("frame")
	isBase64, _ := flags.GetBool("base64")

	encoding := httpclient.EncodingText
	if isBase64 {
		encoding = httpclient.EncodingBase64
	}

	if raw != "" {
		return httpclient.DeliverRequest{Frame: raw, Encoding: encoding}, nil
	}
	if to == "" {
		return httpclient.DeliverRequest{}, fmt.Errorf("either --to or --frame is required")
	}
	addr, err := address.Parse([]byte(to))
	if err != nil {
		return httpclient.DeliverRequest{}, fmt.Errorf("invalid --to: %w", err)
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return httpclient.DeliverRequest{}, fmt.Errorf("failed to read content: %w", err)
		}
		content = base64.StdEncoding.EncodeToString(data)
		encoding = httpclient.EncodingBase64
	}

	return httpclient.DeliverRequest{
		Type:     typ,
		Addr:     addr,
		Content:  content,
		Encoding: encoding,
	}, nil
}
