package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/service/csvsource"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/config"
	xhttp "CoinPull/pkg/http"
	applogger "CoinPull/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	store      domrepo.Storage
	reads      domrepo.CacheInvalidator
	ingest     *usecase.IngestUseCase
	prices     *usecase.PricesUseCase
	fetcher    domrepo.SeriesFetcher
	scheduler  *usecase.IngestScheduler
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	store domrepo.Storage,
	reads domrepo.CacheInvalidator,
	ingest *usecase.IngestUseCase,
	prices *usecase.PricesUseCase,
	fetcher domrepo.SeriesFetcher,
	scheduler *usecase.IngestScheduler,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:        cfg,
		l:          l,
		store:      store,
		reads:      reads,
		ingest:     ingest,
		prices:     prices,
		fetcher:    fetcher,
		scheduler:  scheduler,
		httpServer: httpServer,
	}
}

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.l }

// Run serves HTTP (and the scheduler, when configured) until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve blocks until ctx is done or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server start: %w", err)
	}

	schedDone := make(chan struct{})
	if a.scheduler != nil {
		go func() {
			defer close(schedDone)
			if err := a.scheduler.Run(ctx); err != nil {
				a.l.Error("scheduler error", applogger.Error(err))
			}
		}()
	} else {
		close(schedDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case err := <-a.httpServer.Errors():
		runErr = err
	}

	cancel()
	return a.shutdown(schedDone, runErr)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(schedDone <-chan struct{}, runErr error) error {
	a.l.Info("shutting down...")

	if err := a.httpServer.Stop(context.Background()); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	select {
	case <-schedDone:
	case <-time.After(a.cfg.Server.ShutdownTimeout):
		a.l.Warn("scheduler did not stop in time")
	}

	a.l.Info("shutdown complete")
	return runErr
}

// IngestCSV ingests one export file; a zero snapshot means now.
func (a *App) IngestCSV(ctx context.Context, path string, snapshot time.Time) (*models.IngestReport, error) {
	return a.ingest.IngestCSV(ctx, csvsource.NewFile(path), snapshot)
}

// IngestHistory ingests market charts. Empty ids and days <= 0 fall back to
// the configured assets and history window.
func (a *App) IngestHistory(ctx context.Context, ids []string, days int) (*models.IngestReport, error) {
	if len(ids) == 0 {
		ids = a.cfg.Ingest.Assets
	}
	if days <= 0 {
		days = a.cfg.Ingest.HistoryDays
	}
	return a.ingest.IngestHistory(ctx, a.fetcher, ids, days)
}

// Query reads stored prices.
func (a *App) Query(ctx context.Context, ids []string, start, end *time.Time, limit int) ([]models.PriceRecord, error) {
	return a.prices.Query(ctx, ids, start, end, limit)
}

// Reset deletes every stored price and metadata row and drops cached reads.
func (a *App) Reset(ctx context.Context) error {
	if err := a.store.Reset(ctx); err != nil {
		return err
	}
	if a.reads != nil {
		if err := a.reads.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidate cached reads: %w", err)
		}
	}
	a.l.Warn("store reset", applogger.String("driver", a.cfg.Storage.Driver))
	return nil
}
