package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/ejtp-go/internal/config"
)

const redacted = "<redacted>"

func newConfigCommand() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration ejtpd would run with after merging defaults, the
config file and EJTP_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(configPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if !showSecrets && cfg.Admin.SecretKey != "" {
				cfg.Admin.SecretKey = redacted
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			w := cmd.OutOrStdout()
			if file := loader.ConfigFile(); file != "" {
				fmt.Fprintf(w, "# loaded from %s\n", file)
			}
			_, err = w.Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secret values instead of redacting them")
	return cmd
}
