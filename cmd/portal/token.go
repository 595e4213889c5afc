package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dotproj/api/internal/auth"
)

func newTokenCmd(envFiles *[]string) *cobra.Command {
	var (
		identity auth.Identity
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for local development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if identity.UserID == "" {
				return errors.New("--user is required")
			}
			cfg, _, err := loadConfig(*envFiles)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, identity, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user", "", "user id (sub claim)")
	cmd.Flags().StringVar(&identity.Name, "name", "", "display name")
	cmd.Flags().StringVar(&identity.Email, "email", "", "email address")
	cmd.Flags().BoolVar(&identity.Staff, "staff", false, "grant staff access")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
