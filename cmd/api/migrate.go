package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mkulina/housing-pricing/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the predictions schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := store.Migrate(cmd.Context(), st); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		zap.L().Info("schema migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
