package cli

import (
	"github.com/spf13/cobra"

	"github.com/datasink-io/datasink/migrations"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Migrate applies the schema migrations embedded in this binary to
the database named by DATABASE_URL.

Example:
  datasink migrate up
  datasink migrate status`,
}

func init() {
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error { return r.Up() })
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error { return r.Down() })
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error { return r.Status() })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current migration version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error { return r.Version() })
			},
		},
		&cobra.Command{
			Use:   "drop",
			Short: "Drop all tables (destructive)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(func(r *migrations.Runner) error { return r.Drop() })
			},
		},
	)

	rootCmd.AddCommand(migrateCmd)
}

func withRunner(fn func(*migrations.Runner) error) error {
	cfg, err := migrations.LoadConfig()
	if err != nil {
		return err
	}

	runner, err := migrations.NewRunner(cfg)
	if err != nil {
		return err
	}

	defer func() {
		_ = runner.Close()
	}()

	return fn(runner)
}
