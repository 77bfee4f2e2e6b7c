package commands

import (
	"errors"
	"fmt"
	"time"

	"expvault/pkg/exporter"
	"expvault/pkg/refs"
	"expvault/pkg/types"

	"github.com/spf13/cobra"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout <commit|branch>",
	Short: "Restore working tree files",
	Long:  `Overwrite the tracked files of the working tree with the content of a commit or branch, reset the index to match and move HEAD.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		start := time.Now()

		// 1. 先按分支名解析，再按 Hash 前缀解析
		target, err := EV.Refs.GetBranch(ctx, args[0])
		if errors.Is(err, refs.ErrBranchNotFound) {
			target, err = EV.Store.ExpandHash(ctx, types.HashPrefix(args[0]))
		}
		if err != nil {
			return fmt.Errorf("invalid commit '%s': %w", args[0], err)
		}

		exp := exporter.NewExporter(EV.Store)
		commit, err := exp.ReadCommit(ctx, target)
		if err != nil {
			return err
		}

		// 2. 还原工作区并重建索引
		n, err := exp.SyncWorkspace(ctx, commit.TreeCid.Hash, EV.Root, EV.Index)
		if err != nil {
			return fmt.Errorf("checkout failed: %w", err)
		}

		// 3. 移动 HEAD
		_, ver, err := EV.Refs.GetHead(ctx)
		if err != nil && !errors.Is(err, refs.ErrNoHead) {
			return err
		}
		if err := EV.Refs.UpdateHead(ctx, target, ver); err != nil {
			return fmt.Errorf("failed to update HEAD: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Switched to commit %s (%d files) in %s\n", target.Short(), n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkoutCmd)
}
