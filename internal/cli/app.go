package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/animus-evals/internal/app"
	"github.com/animus-labs/animus-evals/internal/platform/env"
)

const defaultDatabaseURL = "sqlite:evalctl.db"

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// resolveDatabaseURL picks the flag, then DATABASE_URL, then the local default.
func resolveDatabaseURL() string {
	if url := strings.TrimSpace(databaseURL); url != "" {
		return url
	}
	return env.String("DATABASE_URL", defaultDatabaseURL)
}

// openApp builds the services for a command. Callers must Close the result.
func openApp(cmd *cobra.Command, migrate bool) (*app.App, error) {
	cfg, err := app.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Database.URL = resolveDatabaseURL()
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	cfg.Migrate = migrate
	a, err := app.Open(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr()), nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func splitKeys(value string) []string {
	var out []string
	for _, key := range strings.Split(value, ",") {
		if key = strings.TrimSpace(key); key != "" {
			out = append(out, key)
		}
	}
	return out
}
