package main

import (
	"errors"

	"github.com/spf13/cobra"

	"dotproj/api/internal/store"
)

func newReindexCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch task index from Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := open(ctx, *envFiles, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.cfg.Search.MeiliURL == "" {
				return errors.New("MEILI_URL is not set")
			}

			service, closeSearch := rt.searchService()
			defer closeSearch()
			n, err := service.Reindex(store.Privileged(ctx), rt.store)
			if err != nil {
				return err
			}
			rt.log.WithField("tasks", n).Info("reindex complete")
			return nil
		},
	}
}
