package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dotproj/api/internal/policy"
)

func newPoliciesCmd(envFiles *[]string) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Print the row-level security script",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role == "" {
				cfg, _, err := loadConfig(*envFiles)
				if err != nil {
					return err
				}
				role = cfg.Database.RestrictedRole
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), policy.Script(role))
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "restricted database role (default DATABASE_RESTRICTED_ROLE)")
	return cmd
}
