// Package server builds the application's dependencies and owns their
// lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-crawler/internal/api"
	"github.com/JakeFAU/heritage-crawler/internal/cancel"
	"github.com/JakeFAU/heritage-crawler/internal/clock/system"
	"github.com/JakeFAU/heritage-crawler/internal/config"
	"github.com/JakeFAU/heritage-crawler/internal/coordinator"
	"github.com/JakeFAU/heritage-crawler/internal/crawler"
	"github.com/JakeFAU/heritage-crawler/internal/dispatcher"
	"github.com/JakeFAU/heritage-crawler/internal/id/uuid"
	"github.com/JakeFAU/heritage-crawler/internal/progress"
	"github.com/JakeFAU/heritage-crawler/internal/status"
)

const (
	drainTimeout      = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// closer releases one dependency on shutdown.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	tasks     crawler.TaskRepository
	records   crawler.RecordRepository
	queue     crawler.Queue
	hub       *progress.Hub
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
	readiness map[string]api.Pinger

	closers   []closer
	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies from cfg. Nothing is started;
// call Serve or RunWorkers.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:       cfg,
		logger:    logger,
		readiness: make(map[string]api.Pinger),
	}
	app.logger.Info("building application dependencies",
		zap.String("db_backend", cfg.DB.Backend),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("notify_backend", cfg.Notify.Backend),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.Background()); cerr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if err := a.setupQueue(); err != nil {
		return err
	}
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	a.setupProgress()

	clock := system.New()
	workers, err := a.setupWorkers(blobs, publisher, clock)
	if err != nil {
		return err
	}
	a.dispatch = dispatcher.New(a.logger.Named("dispatcher"), workers...)

	coord := coordinator.New(a.tasks, a.records, a.queue, clock, coordinator.Config{
		StartURL:       a.cfg.Crawler.StartURL,
		EnqueueTimeout: a.cfg.Crawler.EnqueueTimeout,
	}, a.logger.Named("coordinator"))

	a.apiServer = api.NewServer(api.Services{
		Coordinator: coord,
		Status:      status.New(a.tasks),
		Cancel:      cancel.New(a.queue, a.tasks, a.logger.Named("cancel")),
		Records:     a.records,
		IDs:         uuid.New(),
		Readiness:   a.readiness,
	}, a.cfg, a.logger)
	return nil
}

// Tasks exposes the task repository for operator commands.
func (a *App) Tasks() crawler.TaskRepository {
	return a.tasks
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Workers reports how many workers the dispatcher runs.
func (a *App) Workers() int {
	return a.dispatch.Size()
}

// Serve runs the HTTP API, plus the workers when crawler.embedded_workers is
// set, until ctx is canceled. The server then drains for up to 10s.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	if a.cfg.Crawler.EmbeddedWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
			a.dispatch.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
			stop()
			return
		}
		serveErr <- nil
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	runErr := <-serveErr
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// RunWorkers runs only the workers until ctx is canceled.
func (a *App) RunWorkers(ctx context.Context) error {
	a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
	a.dispatch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	return a.Close(shutdownCtx)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return drainTimeout
}

// Close releases dependencies in reverse order of construction. Later calls
// return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(ctx); err != nil {
				a.logger.Warn("close failed", zap.String("dependency", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
		a.logger.Info("shutdown complete")
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}
