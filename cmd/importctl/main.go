// Package main provides importctl, an operator tool for import runs that
// works directly against the database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/acl"
	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/schema"
	"github.com/JonMunkholm/csvimport/internal/store/postgres"
)

// Global flags
var (
	jsonOutput bool
	actingAs   string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "importctl",
	Short: "Inspect, resume and revert CSV import runs",
	Long: `importctl operates on import runs without going through the HTTP API.

It reads the same environment as the server (DATABASE_URL, ACL_FILE,
SCHEMA_FILE, ...), loading a .env file first when one is present.

Examples:
  importctl show 7d1c...                 # Status and counts of a run
  importctl resume 7d1c... --last-index  # Continue after the last processed row
  importctl resume 7d1c... -r            # Resume even if the run is in process
  importctl revert 7d1c...               # Delete created records and the run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&actingAs, "as", "", "Principal ID to act as (default: system)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load if present")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+errorText(err))
		os.Exit(1)
	}
}

// app is the importer wired against the configured database.
type app struct {
	importer  *core.Importer
	principal *core.Principal
	pool      *pgxpool.Pool
}

func (a *app) Close() {
	a.pool.Close()
}

// openApp loads configuration and connects to the database. Attachments are
// not needed by any command, so the Postgres store is always used.
func openApp(ctx context.Context) (*app, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	entities, err := schema.Default()
	if cfg.Schema.File != "" {
		entities, err = schema.Load(cfg.Schema.File)
	}
	if err != nil {
		return nil, err
	}

	checker, err := acl.Load(cfg.Security.ACLFile)
	if err != nil {
		return nil, err
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		URL:            cfg.Database.URL,
		MaxConns:       4,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	importer, err := core.NewImporter(core.Deps{
		Records:         postgres.NewRecordStore(pool),
		Runs:            postgres.NewRunRepository(pool),
		Schema:          entities,
		ACL:             checker,
		Blobs:           postgres.NewAttachmentStore(pool),
		Principals:      checker,
		DefaultCurrency: cfg.Import.DefaultCurrency,
		MaxFileSize:     cfg.Import.MaxFileSize,
		Logger:          slog.Default(),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	a := &app{importer: importer, pool: pool}
	if actingAs != "" {
		p, err := checker.LookupPrincipal(ctx, actingAs)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("principal %s: %w", actingAs, err)
		}
		a.principal = &p
	}
	return a, nil
}

// withApp adapts a command body that needs a connected importer.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// errorText leads with the user message for errors the importer knows and
// keeps the technical error on a second line.
func errorText(err error) string {
	if !core.IsUserFacing(err) {
		return err.Error()
	}
	return core.FormatUserError(err) + "\n  " + err.Error()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
