/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the estate ledger. Loads configuration,
  builds the logger and the SQLite store, and runs one of the commands.

COMMANDS:
  serve      Start the HTTP API and the scheduled reconciliation check
  migrate    Apply pending schema migrations and print the version
  reconcile  Print a one-off category vs account report
  seed       Reset the store and load a demo scenario

STARTUP SEQUENCE (serve):
  1. Load config (file, ESTATE_* env, flags)
  2. Build zap logger
  3. Open SQLite store (migrations run on open)
  4. Create API handler and router
  5. Start reconciliation scheduler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running check)
  2. Stop accepting new connections
  3. Wait for active requests (server.shutdown_timeout)
  4. Close database connection

EXAMPLES:
  estate serve --config ./config.yaml
  ESTATE_DATABASE_PATH=":memory:" estate serve --port 3000
  estate reconcile --as-of 2025-02-28
  estate seed --scenario neighborhood

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/warp/estate-ledger/api"
	"github.com/warp/estate-ledger/billing"
	"github.com/warp/estate-ledger/config"
	"github.com/warp/estate-ledger/ipl"
	"github.com/warp/estate-ledger/logger"
	"github.com/warp/estate-ledger/store/sqlite"
	"github.com/warp/estate-ledger/water"
)

const serviceName = "estate-ledger"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

type loader func() (*app, error)

func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:          "estate",
		Short:        "Utility billing and payment allocation for a residential estate",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default ./config.yaml if present)")
	flags.String("db", "", `SQLite database path, ":memory:" for in-memory`)
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json or console")
	bindFlag(v, "database.path", flags.Lookup("db"))
	bindFlag(v, "log.level", flags.Lookup("log-level"))
	bindFlag(v, "log.format", flags.Lookup("log-format"))

	load := func() (*app, error) {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return nil, err
		}
		log, err := logger.New(cfg.Log.Level, cfg.Log.Format, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		return &app{cfg: cfg, logger: log}, nil
	}

	root.AddCommand(
		newServeCmd(v, load),
		newMigrateCmd(load),
		newReconcileCmd(load),
		newSeedCmd(load),
	)
	return root
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP server port")
	bindFlag(v, "server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := a.logger

	store, err := openStore(a.cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := api.NewHandler(store, handlerOptions(a.cfg), log)
	router := api.NewRouter(handler)

	scheduler, err := api.NewReconciliationScheduler(handler.Reconciler, a.cfg.Reconcile.Schedule, log)
	if err != nil {
		return err
	}
	scheduler.Enabled = a.cfg.Reconcile.Enabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", a.cfg.Server.Port),
			zap.String("database", a.cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// =============================================================================
// MIGRATE
// =============================================================================

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			if err := ensureDir(a.cfg.Database.Path); err != nil {
				return err
			}
			db, err := sqlite.Open(a.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlite.Migrate(db); err != nil {
				return err
			}
			version, dirty, err := sqlite.SchemaVersion(db)
			if err != nil {
				return err
			}
			a.logger.Info("schema up to date", zap.Uint("version", version), zap.Bool("dirty", dirty))
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

// =============================================================================
// RECONCILE
// =============================================================================

func newReconcileCmd(load loader) *cobra.Command {
	var asOfRaw string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare category and account balances",
		Long: "Prints the category total, escrow total and account total.\n" +
			"Exits non-zero when they differ by more than reconcile.tolerance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			var asOf *billing.TimePoint
			if asOfRaw != "" {
				d, err := billing.ParseDate(asOfRaw)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				asOf = &d
			}

			store, err := openStore(a.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			reconciler := billing.NewBalanceReconciler(store, a.logger)
			reconciler.Tolerance = billing.MoneyOf(config.Decimal(a.cfg.Reconcile.Tolerance))
			report, err := reconciler.Reconcile(cmd.Context(), asOf)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "categories  %s\n", report.CategoryTotal)
			fmt.Fprintf(out, "escrow      %s\n", report.EscrowTotal)
			fmt.Fprintf(out, "accounts    %s\n", report.AccountTotal)
			fmt.Fprintf(out, "difference  %s\n", report.Difference)
			if report.UntaggedEntries > 0 || report.UnassignedEntries > 0 {
				fmt.Fprintf(out, "untagged entries %d, unassigned entries %d\n", report.UntaggedEntries, report.UnassignedEntries)
			}
			if !report.Consistent {
				return fmt.Errorf("books out of balance by %s", report.Discrepancy)
			}
			fmt.Fprintln(out, "consistent")
			return nil
		},
	}
	cmd.Flags().StringVar(&asOfRaw, "as-of", "", "only movements on or before this date (YYYY-MM-DD)")
	return cmd
}

// =============================================================================
// SEED
// =============================================================================

func newSeedCmd(load loader) *cobra.Command {
	var scenario string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Reset the store and load a demo scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.logger.Sync()

			store, err := openStore(a.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			handler := api.NewHandler(store, handlerOptions(a.cfg), a.logger)
			if err := handler.LoadScenarioByID(cmd.Context(), scenario); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded scenario %s into %s\n", scenario, a.cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "neighborhood", "scenario to load")
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

func openStore(path string) (*sqlite.Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// handlerOptions translates validated config into engine settings.
func handlerOptions(cfg *config.Config) api.Options {
	priority, _ := ipl.ParseTierPriority(cfg.Billing.IPL.TierPriority)
	return api.Options{
		DueDays: cfg.Billing.DueDays,
		Detector: water.AnomalyDetector{
			MaxDropRatio:       config.Decimal(cfg.Billing.Anomaly.MaxDropRatio),
			ReplacementCeiling: config.Decimal(cfg.Billing.Anomaly.ReplacementCeiling),
		},
		TierPriority:           priority,
		AllowCrossTierFallback: cfg.Billing.IPL.AllowCrossTierFallback,
		Tolerance:              billing.MoneyOf(config.Decimal(cfg.Reconcile.Tolerance)),
	}
}
