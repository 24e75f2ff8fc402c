package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/llm-playground/internal/auth"
	"github.com/suPer8Hu/llm-playground/internal/config"
)

func addToken(topLevel *cobra.Command, cfg *config.Config) {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API.",
		Example: `
JWT_SECRET=s3cret playground token --subject alice --ttl 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set; the API accepts requests without a token")
			}
			tok, err := auth.SignJWT(subject, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject, used as the rate limit key")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	topLevel.AddCommand(cmd)
}
