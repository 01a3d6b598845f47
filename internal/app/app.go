// Package app wires configuration into the long-lived services of one crawl
// run and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/feed-finder/internal/api"
	"github.com/JakeFAU/feed-finder/internal/clock"
	"github.com/JakeFAU/feed-finder/internal/config"
	"github.com/JakeFAU/feed-finder/internal/extract"
	collyfetcher "github.com/JakeFAU/feed-finder/internal/fetcher/colly"
	"github.com/JakeFAU/feed-finder/internal/metrics"
	"github.com/JakeFAU/feed-finder/internal/scheduler"
	"github.com/JakeFAU/feed-finder/internal/sink"
	"github.com/JakeFAU/feed-finder/internal/sink/postgres"
	"github.com/JakeFAU/feed-finder/internal/sink/tsv"
	"github.com/JakeFAU/feed-finder/internal/state"
	"github.com/JakeFAU/feed-finder/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// App holds the services of a single run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	output    *tsv.Writer
	mirror    *postgres.Store
	worker    *worker.Worker
	scheduler *scheduler.Scheduler
	server    *http.Server
}

// New opens the output, loads the seen-domain snapshot and builds the pipeline.
// It fails fast if any required service cannot be initialized.
func New(ctx context.Context, cfg config.Config, outputPath string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	store, err := state.NewFileStore(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("init state store: %w", err)
	}
	seen, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load seen domains: %w", err)
	}
	logger.Info("loaded seen domains", zap.String("path", store.Path()), zap.Int("domains", seen.Len()))

	output, err := tsv.Open(outputPath)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger, output: output}

	writers := sink.Fanout{output}
	if cfg.Postgres.DSN != "" {
		mirror, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			_ = output.Close()
			return nil, fmt.Errorf("init postgres mirror: %w", err)
		}
		logger.Info("mirroring rows to postgres", zap.String("table", cfg.Postgres.Table))
		a.mirror = mirror
		writers = append(writers, mirror)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		Headers:        cfg.RequestHeaders(),
		ConnectTimeout: cfg.HTTP.ConnectTimeout,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		SessionTimeout: cfg.HTTP.SessionTimeout,
		PerHost:        cfg.Crawler.PerHost,
		MaxIdleConns:   cfg.Crawler.Concurrency,
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
	})
	clk := clock.New()
	a.worker = worker.New(fetcher, extract.New(clk), writers, clk, logger.Named("worker"))
	a.scheduler = scheduler.New(
		scheduler.Config{Concurrency: int64(cfg.Crawler.Concurrency)},
		a.worker,
		seen,
		store,
		logger.Named("scheduler"),
	)
	return a, nil
}

// Written returns the number of rows written so far.
func (a *App) Written() int64 {
	return a.worker.Written()
}

// Run streams in through the scheduler until it is exhausted or ctx ends.
// An interrupt is reported as context.Canceled after state has been saved.
func (a *App) Run(ctx context.Context, in io.Reader) (scheduler.Summary, error) {
	a.startServer(ctx)
	defer a.stopServer()

	summary, err := a.scheduler.Run(ctx, in)
	a.logger.Info("crawl finished",
		zap.Int64("lines", summary.Lines),
		zap.Int64("invalid", summary.Invalid),
		zap.Int64("duplicates", summary.Duplicates),
		zap.Int64("dispatched", summary.Dispatched),
		zap.Int64("rows_written", a.Written()),
		zap.Bool("interrupted", errors.Is(err, context.Canceled)),
	)
	return summary, err
}

func (a *App) startServer(ctx context.Context) {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	srv := api.NewServer(a.logger.Named("api"), a.scheduler, func() bool { return ctx.Err() == nil })
	a.server = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func(s *http.Server) {
		a.logger.Info("metrics server started", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}(a.server)
}

func (a *App) stopServer() {
	if a.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}

// Close releases the output file and the optional mirror.
func (a *App) Close() error {
	var errs []error
	if err := a.output.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.mirror != nil {
		a.mirror.Close()
	}
	return errors.Join(errs...)
}
