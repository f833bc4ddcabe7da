package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-explorer/config"
	"ledger-explorer/handlers"
	"ledger-explorer/ledger"
	"ledger-explorer/metrics"
	"ledger-explorer/mirror"
	"ledger-explorer/pagination"
	"ledger-explorer/services"
	"ledger-explorer/utils"
	"ledger-explorer/workers"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	ConfigFile string
	Port       int
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the refresh workers and the HTTP API",
		Long: `Start the explorer.

Settings come from defaults, the YAML file given with --config (or
CONFIG_FILE), a .env file and the environment, in that order.

Example:
  ledger-explorer serve --config ./explorer.yaml
  LEDGER_URL=http://localhost:8080 ledger-explorer serve --port 5200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML config file")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "listen port, overrides PORT")
	return cmd
}

func serve(parent context.Context, opts *serveOptions) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.Port > 0 {
		cfg.Port = opts.Port
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.Development)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openLedger(cfg, logger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	m := mirror.New(mirror.Options{MaxBlocks: cfg.Mirror.MaxBlocks})
	x := metrics.New(m)

	sched, err := startRefresh(ctx, cfg, client, m, x, logger)
	if err != nil {
		return err
	}

	svc := services.NewExplorerService(client, m, logger, x, services.Options{
		Engine: pagination.Engine{
			DefaultPageSize: cfg.Pagination.DefaultPageSize,
			MaxPageSize:     cfg.Pagination.MaxPageSize,
		},
		PointRetries:     cfg.Query.PointRetries,
		ColdFetchTimeout: cfg.Query.ColdFetchTimeout,
	})
	svc.Refresh = sched

	app := handlers.NewApp(logger, x, cfg.AllowedOrigins)
	handlers.SetupExplorerRoutes(app, svc, cfg.AdminToken, logger)
	handlers.SetupMetricsRoute(app, x)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(cfg.Addr())
	}()

	logger.Info("explorer running",
		zap.String("addr", cfg.Addr()),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Bool("admin_api", cfg.AdminToken != ""),
		zap.Int("max_blocks", cfg.Mirror.MaxBlocks),
	)

	select {
	case <-ctx.Done():
		err = nil
	case err = <-listenErr:
		err = fmt.Errorf("listen: %w", err)
	}

	logger.Info("shutting down")
	stop()
	if serr := sched.Shutdown(); serr != nil {
		logger.Warn("scheduler shutdown", zap.Error(serr))
	}
	if serr := app.ShutdownWithTimeout(10 * time.Second); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	return err
}

// openLedger prefers a direct database connection when a DSN is configured.
func openLedger(cfg config.Config, logger *zap.Logger) (ledger.Client, error) {
	if cfg.LedgerDSN != "" {
		logger.Info("reading ledger from postgres")
		return ledger.OpenPostgres(cfg.LedgerDSN)
	}
	logger.Info("reading ledger over http", zap.String("url", cfg.LedgerURL))
	return ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerToken, cfg.Query.LedgerTimeout, logger)
}

func startRefresh(ctx context.Context, cfg config.Config, client ledger.Client, m *mirror.Mirror, x *metrics.Metrics, logger *zap.Logger) (*workers.Scheduler, error) {
	sched, err := workers.NewScheduler(logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	backoff := workers.Backoff{Initial: cfg.Refresh.BackoffInitial, Max: cfg.Refresh.BackoffMax}

	jobs := []struct {
		r     workers.Refresher
		every time.Duration
	}{
		{&workers.BlockRefresher{Ledger: client, Mirror: m, BatchSize: cfg.Refresh.BlockBatchSize}, cfg.Refresh.BlockInterval},
		{&workers.DomainRefresher{Ledger: client, Mirror: m}, cfg.Refresh.DomainInterval},
		{&workers.AccountRefresher{Ledger: client, Mirror: m, Logger: logger}, cfg.Refresh.AccountInterval},
	}
	for _, j := range jobs {
		w := workers.NewRefreshWorker(j.r, backoff, logger, x)
		if err := sched.Add(ctx, w, j.every); err != nil {
			return nil, errors.Join(fmt.Errorf("schedule %s: %w", j.r.Class(), err), sched.Shutdown())
		}
	}
	sched.Start()
	return sched, nil
}
