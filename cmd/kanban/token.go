package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kanban/internal/auth"
	"kanban/internal/util"
)

// tokenCmd signs development tokens for servers running with --jwt-secret.
func tokenCmd() *cobra.Command {
	var (
		secret   string
		user     string
		audience string
		issuer   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an HS256 bearer token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" || user == "" {
				return errors.New("--jwt-secret and --user are required")
			}
			tok, err := auth.Sign([]byte(secret), user, audience, issuer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&secret, "jwt-secret", util.EnvOrDefault("KANBAN_JWT_SECRET", ""), "Shared HS256 secret")
	f.StringVar(&user, "user", "", "User id placed in the sub claim")
	f.StringVar(&audience, "jwt-audience", util.EnvOrDefault("KANBAN_JWT_AUDIENCE", ""), "Token audience")
	f.StringVar(&issuer, "jwt-issuer", util.EnvOrDefault("KANBAN_JWT_ISSUER", ""), "Token issuer")
	f.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
