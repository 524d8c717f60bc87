package admin

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voceria/kbpipeline/internal/config"
	"github.com/voceria/kbpipeline/internal/database"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply all pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			return database.Migrate(cfg.DatabaseURL)
		},
	}
}
