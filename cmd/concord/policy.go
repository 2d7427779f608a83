package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/concordhq/concord/pkg/policyloader"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate arbitration policy bundles",
	}
	cmd.AddCommand(newPolicyLintCmd())
	return cmd
}

func newPolicyLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <dir>",
		Short: "Validate every policy bundle in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := policyloader.NewLoader(args[0])
			if err != nil {
				return err
			}
			if err := loader.LoadAll(); err != nil {
				return err
			}
			for _, b := range loader.Bundles() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d policies\t%s\n",
					b.Name, b.Version, len(b.Policies), b.Hash[:12])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d bundles, %d policies\n",
				len(loader.Bundles()), len(loader.Policies()))
			return nil
		},
	}
}
