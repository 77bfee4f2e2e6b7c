package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"expvault/pkg/config"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an expvault repository",
	Long:  `Create an empty expvault repository in the current directory.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		repoPath := filepath.Join(wd, config.RepoDir)

		if _, err := os.Stat(repoPath); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "expvault repository already exists in %s\n", repoPath)
			return nil
		}

		// .ev/objects 存放对象，index.json 与 meta.db 首次使用时创建
		if err := os.MkdirAll(filepath.Join(repoPath, "objects"), 0755); err != nil {
			return fmt.Errorf("failed to create repo directory: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty expvault repository in %s\n", repoPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
