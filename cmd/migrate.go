package cmd

import (
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/rickcollette/kayveechat-server/store"
)

// MigrateCmd applies the database schema and exits.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, log)
			if err != nil {
				return err
			}
			var result *multierror.Error
			if err := db.Migrate(cmd.Context()); err != nil {
				result = multierror.Append(result, err)
			}
			if err := db.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			if err := result.ErrorOrNil(); err != nil {
				return err
			}

			log.Info().Str("driver", cfg.DatabaseDriver).Msg("schema up to date")
			return nil
		},
	}
}
