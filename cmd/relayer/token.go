package main

import (
	"fmt"
	"time"

	"go-relayer/internal/middleware"

	"github.com/spf13/cobra"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin JWT for the /api/admin endpoints",
		Example: `  relayer token --user ops --ttl 2h
  curl -X POST -H "Authorization: Bearer $(relayer token)" localhost:8080/api/admin/reconcile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Admin.TokenTTL
			}

			token, err := middleware.IssueAdminToken(cfg.Admin.JWTSecret, username, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "user", "admin", "username recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default admin.tokenTTL)")
	return cmd
}
