package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dotproj/api/internal/scheduler"
)

func newSchedulerCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue the periodic chore scheduling job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := open(ctx, *envFiles, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			sched := scheduler.New(rt.store, rt.queue(), rt.invalidator(), scheduler.Options{
				Location: rt.cfg.Location(),
				Logger:   rt.log.WithField("component", "scheduler"),
			})
			return sched.Run(ctx, rt.cfg.Scheduler.Spec)
		},
	}
}
