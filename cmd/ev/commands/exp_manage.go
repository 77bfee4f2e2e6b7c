package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var expBranchCmd = &cobra.Command{
	Use:   "branch <exp> <branch>",
	Short: "Promote an experiment to a regular branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := EV.Exps.Promote(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Branch '%s' has been created from experiment '%s'.\n", b.Name, args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "To switch to the new branch run:\n\n\tev checkout %s\n", b.Name)
		return nil
	},
}

var expRemoveCmd = &cobra.Command{
	Use:     "remove <exp>...",
	Aliases: []string{"rm"},
	Short:   "Remove experiments",
	Long:    `Remove experiment refs. Every name is resolved first; nothing is removed if one of them is unknown. Objects are reclaimed by 'ev gc'.`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := EV.Exps.Remove(cmd.Context(), args...)
		for _, e := range removed {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed experiment %s (%s)\n", e.Name, e.Ref.Short())
		}
		return err
	},
}

var expApplyCmd = &cobra.Command{
	Use:   "apply <exp>",
	Short: "Restore an experiment into the workspace",
	Long:  `Overwrite the workspace with the files of an experiment and reset the index. HEAD does not move.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, n, err := EV.Exps.Apply(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Changes for experiment '%s' have been applied to your workspace (%d files).\n", e.Name, n)
		return nil
	},
}

func init() {
	expCmd.AddCommand(expBranchCmd, expRemoveCmd, expApplyCmd)
}
