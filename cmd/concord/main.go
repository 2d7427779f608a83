package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "concord",
		Short: "Concord governs autonomous agents: proposals in, arbitrated executions out",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newPolicyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
