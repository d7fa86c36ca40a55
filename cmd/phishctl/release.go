package main

import (
	"fmt"

	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/gateway"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var releaseCmd = &cobra.Command{
	Use:   "release <case-id>",
	Short: "Deliver a quarantined message to its recipients",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(func(
			logger *zap.Logger,
			repo core.Repository,
			quarantine core.QuarantineStorage,
			relay core.Relay,
		) error {
			defer repo.Close()
			c, err := gateway.NewReleaser(repo, quarantine, relay, logger).Release(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released case #%d (%s)\n", c.Number, c.ID)
			return nil
		})
	},
}
