package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/consentgate/internal/app"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := app.Build(cmd.Context(), cfg, app.Options{Version: version})
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied=%v skipped=%v (%s)\n", res.Applied, res.Skipped, res.Duration)
			return nil
		},
	}
}
