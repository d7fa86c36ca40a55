package main

import (
	"fmt"

	"github.com/mikey/phish-gateway/internal/adapters/policy"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage allow and block lists",
}

var policyImportCmd = &cobra.Command{
	Use:   "import <policy.yaml>",
	Short: "Import allow/block entries from a YAML file",
	Long: `Import allow/block entries from a YAML file of the form:

  allow:
    - type: domain
      value: partner.example
  block:
    - type: email
      value: ceo@lookalike.example`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return invoke(func(logger *zap.Logger, repo core.Repository) error {
			defer repo.Close()
			n, err := policy.NewImporter(repo, logger).ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d policy entries\n", n)
			return nil
		})
	},
}

func init() {
	policyCmd.AddCommand(policyImportCmd)
}
