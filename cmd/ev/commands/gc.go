package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete objects unreachable from any ref",
	Long:  `Remove objects that no branch, HEAD or experiment can reach. Do not run it while another process is saving.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := EV.Exps.GC(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reachable: %d, removed: %d\n", stats.Reachable, stats.Removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}
