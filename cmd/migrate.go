package cmd

import (
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-credentials/app/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openAdminDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		return repository.RunMigrations(cmd.Context(), db)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the applied state of every migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openAdminDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		return repository.MigrationStatus(cmd.Context(), db)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
