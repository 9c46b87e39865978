package cmd

import (
	"errors"

	"click-backend/internal/config"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.DriverMemory {
				return errors.New("the memory store has no schema to migrate")
			}
			return applyMigrations(cmd.Context(), cfg)
		},
	}
}
