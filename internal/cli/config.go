package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Cooperation-org/claim-lexicon/internal/platform/config"
)

const redacted = "[redacted]"

func newConfigCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(redact(cfg))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func redact(cfg config.Config) config.Config {
	if cfg.Server.AdminToken != "" {
		cfg.Server.AdminToken = redacted
	}
	cfg.Database.URL = redactURL(cfg.Database.URL)
	cfg.Redis.URL = redactURL(cfg.Redis.URL)
	return cfg
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
