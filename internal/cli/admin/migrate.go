package admin

import (
	"fmt"

	"github.com/cloo-solutions/taisearch/internal/config"
	"github.com/cloo-solutions/taisearch/internal/database"
	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.PersistentFlags().String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := migrationTarget(cmd)
			if err != nil {
				return err
			}
			if err := database.Migrate(cfg.DatabaseURL, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := migrationTarget(cmd)
			if err != nil {
				return err
			}
			if err := database.Rollback(cfg.DatabaseURL, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dir, err := migrationTarget(cmd)
			if err != nil {
				return err
			}
			version, dirty, err := database.Version(cfg.DatabaseURL, dir)
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("schema version %d is dirty, manual intervention required", version)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d\n", version)
			return nil
		},
	})

	return cmd
}

func migrationTarget(cmd *cobra.Command) (*config.Config, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	return cfg, dir, nil
}
