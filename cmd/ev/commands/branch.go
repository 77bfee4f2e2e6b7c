package commands

import (
	"fmt"

	"expvault/pkg/exp/naming"

	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch [name]",
	Short: "List branches, or create one at HEAD",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			branches, err := EV.Refs.ListBranches(ctx)
			if err != nil {
				return err
			}
			for _, b := range branches {
				fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Commit.Short())
			}
			return nil
		}

		name := args[0]
		if err := naming.ValidateBranch(name); err != nil {
			return err
		}
		head, _, err := EV.Refs.GetHead(ctx)
		if err != nil {
			return err
		}
		if err := EV.Refs.CreateBranch(ctx, name, head); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created branch %s at %s\n", name, head.Short())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(branchCmd)
}
