package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/taisearch/internal/database"
	"github.com/cloo-solutions/taisearch/internal/jobs"
	"github.com/cloo-solutions/taisearch/internal/server"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the operational server and the pending-resource sweeper",
		Long: "Start the health and load endpoints, and periodically hand PENDING resources to the " +
			"task queue (or an in-process pool when Redis is not configured).",
		RunE: runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (defaults to PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()
	a.initTelemetry()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		a.cfg.Port = port
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := database.Migrate(a.cfg.DatabaseURL, a.cfg.MigrationsDir); err != nil {
			return err
		}
		version, _, err := database.Version(a.cfg.DatabaseURL, a.cfg.MigrationsDir)
		if err != nil {
			return err
		}
		a.logger.WithField("version", version).Info("migrations applied")
	}

	if err := a.connect(ctx); err != nil {
		return err
	}

	var (
		enqueuer jobs.Enqueuer
		runner   *jobs.Runner
	)
	if a.queue != nil {
		enqueuer = a.queue
	} else {
		runner, err = jobs.NewRunner(a.cfg.RunnerPoolSize, a.logger)
		if err != nil {
			return err
		}
		enqueuer = jobs.LocalEnqueuer{Runner: runner, Resumer: jobs.FromBackend(a.backend)}
	}

	sweeper := jobs.NewSweeper(a.store, enqueuer, a.cfg.SweepGrace, a.logger)
	worker := jobs.NewWorker(sweeper, a.cfg.SweepInterval, a.logger)
	go worker.Start(ctx)

	srv := &http.Server{
		Addr: ":" + a.cfg.Port,
		Handler: server.NewRouter(server.RouterConfig{
			Sampler:    a.sampler,
			Thresholds: a.admissionThresholds(),
			Database:   a.pool,
			Logger:     a.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.WithField("port", a.cfg.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			worker.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	a.logger.Info("shutting down")

	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if runner != nil {
		if err := runner.Close(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("index tasks still running at shutdown")
		}
	}

	a.logger.Info("server exited")
	return nil
}
