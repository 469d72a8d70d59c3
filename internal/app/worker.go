package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"email-hook-go/internal/config"
	"email-hook-go/internal/handler"
	"email-hook-go/internal/metrics"
	"email-hook-go/internal/router"
	"email-hook-go/internal/scheduler"
	"email-hook-go/internal/store"
	"email-hook-go/internal/webhook"
	"email-hook-go/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// runWorker runs the delivery loop, and the ops HTTP server when enabled,
// until ctx is cancelled.
func runWorker(ctx context.Context, cfg *config.Config) error {
	s, db, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer s.Close()

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	reg := metrics.NewRegistry(sqlDB)
	m := metrics.New(reg)

	w := worker.New(s, webhook.NewSender(cfg.Worker.APITimeout()), cfg.Worker, m)
	sched := scheduler.New("worker", cfg.Worker.Interval(), w.Run)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"interval":    cfg.Worker.Interval().String(),
		"batch":       cfg.Worker.ItemsPerIteration,
		"concurrency": cfg.Worker.Concurrency,
		"max_retries": cfg.Worker.MaxRetries,
		"stale_after": cfg.Worker.StaleAfter().String(),
	}).Info("Worker started")

	serverErr := make(chan error, 1)
	var srv *http.Server
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router.SetupRouter(handler.NewHandlers(s, sched, reg)),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logrus.Infof("Starting HTTP server on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		err = nil
	case err = <-serverErr:
		err = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down worker...")
	if stopErr := sched.Stop(); stopErr != nil {
		logrus.Errorf("Failed to stop worker: %v", stopErr)
	}
	sched.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logrus.Errorf("HTTP server shutdown error: %v", shutdownErr)
		}
	}

	logrus.Info("Worker stopped gracefully")
	return err
}
