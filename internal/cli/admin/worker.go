package admin

import (
	"errors"

	"github.com/cloo-solutions/taisearch/internal/jobs"
	"github.com/spf13/cobra"
)

func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process index tasks from the Redis queue",
		Long:  "Run an asynq server that resumes and indexes resources enqueued by serve and resource create.",
		RunE:  runWorker,
	}

	cmd.Flags().IntP("concurrency", "c", 0, "Tasks processed in parallel (defaults to QUEUE_CONCURRENCY)")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()
	a.initTelemetry()

	if !a.cfg.HasRedis() {
		return errors.New("worker requires REDIS_ADDR")
	}
	if err := a.connect(cmd.Context()); err != nil {
		return err
	}

	concurrency := a.cfg.QueueConcurrency
	if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
		concurrency = c
	}

	srv := jobs.NewServer(a.redisConnOpt(), jobs.ServerConfig{
		Queue:       a.cfg.QueueName,
		Concurrency: concurrency,
	}, a.logger)
	handler := jobs.NewIndexHandler(jobs.FromBackend(a.backend), a.logger)

	a.logger.WithField("queue", a.cfg.QueueName).Info("starting worker")
	// Run blocks until SIGTERM or SIGINT and then drains in-flight tasks.
	return srv.Run(jobs.NewMux(handler))
}
