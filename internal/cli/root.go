// Package cli implements evalctl, the local command line for the dataset registry and
// the experiment runner.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	databaseURL string
	autoMigrate bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "evalctl",
	Short: "Manage versioned datasets and run experiments against them",
	Long: `evalctl records dataset examples in an append-only revision log, materializes
snapshots at any version and runs tasks and evaluators over them.

By default it works on a local SQLite file. Point --database-url (or DATABASE_URL)
at Postgres to share state with the dataset-registry and experiments services.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "database url (default $DATABASE_URL or sqlite:evalctl.db)")
	rootCmd.PersistentFlags().BoolVar(&autoMigrate, "auto-migrate", true, "apply pending schema migrations before running")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(experimentCmd)
	rootCmd.AddCommand(exportCmd)
}
