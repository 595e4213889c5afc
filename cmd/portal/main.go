// Command portal runs the workspace API and its background processes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFiles []string
	cmd := &cobra.Command{
		Use:           "portal",
		Short:         "Multi-tenant workspace API, scheduler and job worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading the environment (default .env, .env.local)")

	cmd.AddCommand(newServeCmd(&envFiles))
	cmd.AddCommand(newWorkerCmd(&envFiles))
	cmd.AddCommand(newSchedulerCmd(&envFiles))
	cmd.AddCommand(newMigrateCmd(&envFiles))
	cmd.AddCommand(newPoliciesCmd(&envFiles))
	cmd.AddCommand(newReindexCmd(&envFiles))
	cmd.AddCommand(newWatchCmd(&envFiles))
	cmd.AddCommand(newTokenCmd(&envFiles))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
