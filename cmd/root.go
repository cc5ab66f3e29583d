package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rickcollette/kayveechat-server/utils"
)

// NewRootCmd builds the kayveechat command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "kayveechat",
		Short:        "KayVeeChat messaging server",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to the config file (default $CONFIG_PATH or ./kayveechat.yaml)")
	flags.String("listen", "", "TCP listen address, overrides listen_addr")
	flags.String("log-level", "", "log level (debug, info, warn, error), overrides log_level")

	root.AddCommand(StartCmd(), MigrateCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the configuration and root logger for a subcommand.
func loadConfig(cmd *cobra.Command) (*utils.Config, zerolog.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg, err := utils.LoadConfig(path, cmd.Flags())
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	log, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
