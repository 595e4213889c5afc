package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream resource timestamp updates as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := open(ctx, *envFiles, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			updates, closeSub := rt.timestamps().Subscribe(ctx)
			defer func() { _ = closeSub() }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case u, ok := <-updates:
					if !ok {
						return nil
					}
					if err := enc.Encode(u); err != nil {
						return err
					}
				}
			}
		},
	}
}
