package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/animus-labs/animus-evals/internal/repo/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply the embedded schema migrations for the configured backend.

Migrations already recorded in schema_migrations are skipped, so running the
command twice is safe.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	applied, err := sqlstore.Migrate(cmd.Context(), a.DB, a.Dialect, a.Logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s\n", applied, a.Dialect.Name())
	return nil
}
