package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dotproj/api/internal/jobs"
	"dotproj/api/internal/scheduler"
)

func newWorkerCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process scheduler and summary jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := open(ctx, *envFiles, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			cfg := rt.cfg

			queue := rt.queue()
			worker := jobs.NewWorker(queue, jobs.WorkerOptions{
				Queues:       cfg.Worker.Queues,
				Concurrency:  cfg.Worker.Concurrency,
				PollInterval: cfg.Worker.PollInterval,
				MaxAttempts:  cfg.Worker.MaxAttempts,
				Logger:       rt.log.WithField("component", "worker"),
			})
			scheduler.New(rt.store, queue, rt.invalidator(), scheduler.Options{
				Location: cfg.Location(),
				Logger:   rt.log.WithField("component", "scheduler"),
			}).Register(worker)
			rt.summarizer(queue).Register(worker)

			rt.log.WithField("queues", cfg.Worker.Queues).Info("worker started")
			return worker.Run(ctx)
		},
	}
}
