// Package cli implements the claims-indexer command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Cooperation-org/claim-lexicon/internal/platform/config"
)

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

// load resolves the configuration from defaults, the config file, CLAIMS_*
// environment variables and bound flags.
func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.v, o.configFile)
}

func (o *rootOptions) bind(cmd *cobra.Command, key, flag string) {
	_ = o.v.BindPFlag(key, cmd.Flags().Lookup(flag))
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	o := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:   "claims-indexer",
		Short: "Index verifiable claims from repository change streams",
		Long: `claims-indexer consumes claim records from Kafka or a Jetstream feed,
verifies their embedded proofs, derives the attestation graph and serves
read-only queries over HTTP.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (CLAIMS_*)
  3. Config file (--config)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&o.configFile, "config", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().String("kafka-brokers", "", "comma separated Kafka seed brokers")
	_ = o.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = o.v.BindPFlag("kafka.brokers", root.PersistentFlags().Lookup("kafka-brokers"))

	root.AddCommand(
		newServeCommand(o),
		newCanonicalizeCommand(),
		newPublishCommand(o),
		newConfigCommand(o),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
