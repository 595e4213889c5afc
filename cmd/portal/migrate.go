package main

import (
	"github.com/spf13/cobra"

	"dotproj/api/internal/store"
)

func newMigrateCmd(envFiles *[]string) *cobra.Command {
	var skipPolicies bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and row-level security policies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := open(ctx, *envFiles, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := store.ApplyMigrations(ctx, rt.db, store.Migrations()); err != nil {
				return err
			}
			rt.log.Info("migrations applied")
			if skipPolicies {
				return nil
			}
			if err := store.ApplyPolicies(ctx, rt.db, rt.cfg.Database.RestrictedRole); err != nil {
				return err
			}
			rt.log.WithField("role", rt.cfg.Database.RestrictedRole).Info("policies applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipPolicies, "skip-policies", false, "only apply schema migrations")
	return cmd
}
