package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Remove files from the index",
	Long:  `Stop tracking files. This does not delete them from the filesystem, but they will not be part of the next commit.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		count := 0
		for _, path := range args {
			rel, err := workspaceRel(path)
			if err != nil {
				return err
			}
			if !EV.Index.Remove(rel) {
				fmt.Fprintf(out, "not tracked: %s\n", rel)
				continue
			}
			fmt.Fprintf(out, "Unstaged: %s\n", rel)
			count++
		}

		if count > 0 {
			if err := EV.Index.Save(); err != nil {
				return fmt.Errorf("failed to save index: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
