package main

import (
	"fmt"
	"time"

	"github.com/insureflow/insureflow/internal/server"
	"github.com/insureflow/insureflow/internal/storage"
	"github.com/spf13/cobra"
)

func newTokenCmd(c *cli) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg, err := storage.LoadServerConfig(c.cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to load server config: %w", err)
			}
			tok, err := server.MintToken(serverCfg.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "agent", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}
