package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/splitd/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [version]",
	Short: "Run database migrations",
	Long: `Run database migrations.

Without arguments, runs all pending migrations (up).
With a version number, migrates to that specific version (up or down as needed).

Examples:
  splitd migrate      # Run all pending migrations
  splitd migrate 1    # Migrate to version 1
  splitd migrate 0    # Rollback all migrations`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	if app.DB == nil {
		return fmt.Errorf("migrations need a SQL database; %s backend has none", app.Config.AssignmentBackend)
	}

	runner := migrate.NewRunner(app.DB, app.Logger)
	current, _, err := runner.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	fmt.Fprintf(out, "Current version: %d\n", current)

	if len(args) == 0 {
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		if applied == 0 {
			fmt.Fprintln(out, "No migrations to run")
			return nil
		}
	} else {
		target, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		if target == current {
			fmt.Fprintln(out, "Already at target version")
			return nil
		}
		if err := runner.To(ctx, target); err != nil {
			return err
		}
	}

	version, _, err := runner.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	fmt.Fprintf(out, "Migrated to version %d\n", version)
	return nil
}
