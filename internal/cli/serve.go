package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emiliopalmerini/splitd/internal/adapters/otel"
	"github.com/emiliopalmerini/splitd/internal/adapters/prometheus"
	"github.com/emiliopalmerini/splitd/internal/decision"
	"github.com/emiliopalmerini/splitd/internal/migrate"
	"github.com/emiliopalmerini/splitd/internal/ports"
	"github.com/emiliopalmerini/splitd/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision API",
	Long: `Start the HTTP decision API.

Pending migrations are applied on start when a SQL database is configured.

Examples:
  splitd serve
  SPLITD_ADDR=:9000 SPLITD_ASSIGNMENT_BACKEND=redis splitd serve`,
	RunE: runServe,
}

var serveSkipMigrate bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveSkipMigrate, "skip-migrate", false, "Do not apply pending migrations on start")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewAppContext(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg, logger := app.Config, app.Logger

	if app.DB != nil && !serveSkipMigrate {
		if _, err := migrate.NewRunner(app.DB, logger).Up(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	recorder := prometheus.NewRecorder()
	metrics := ports.FanoutExporter{recorder}
	if cfg.OTel.Enabled {
		exporter, err := otel.NewExporter(ctx, cfg.OTel.Exporter())
		if err != nil {
			return fmt.Errorf("failed to create OTEL exporter: %w", err)
		}
		metrics = append(metrics, exporter)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := metrics.Close(closeCtx); err != nil {
			logger.Warn("failed to flush metrics", "error", err)
		}
	}()

	ingestor := decision.NewIngestor(app.Events, metrics, logger, decision.IngestorOptions{
		Buffer:  cfg.IngestBuffer,
		Workers: app.IngestWorkers(),
	})
	server := web.NewServer(
		web.Config{Addr: cfg.Addr, ShutdownTimeout: cfg.ShutdownTimeout},
		app.DecisionService(ingestor, metrics),
		app.Registry,
		recorder.Handler(),
		logger,
	)

	// The ingestor outlives the HTTP server so events accepted by in-flight
	// requests are still drained.
	ingestCtx, stopIngest := context.WithCancel(context.WithoutCancel(ctx))
	defer stopIngest()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopIngest()
		return server.Start(gctx)
	})
	g.Go(func() error {
		return ingestor.Run(ingestCtx)
	})

	logger.Info("splitd started",
		"backend", cfg.AssignmentBackend, "addr", cfg.Addr, "otel", cfg.OTel.Enabled)
	return g.Wait()
}
