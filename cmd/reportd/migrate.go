package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(load func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema migrations of the configured stores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := cfg.Logger()
			b, err := openBackends(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close(cmd.Context())

			if err := b.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
