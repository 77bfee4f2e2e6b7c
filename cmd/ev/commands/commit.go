package commands

import (
	"fmt"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/treebuilder"
	"expvault/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var commitMsg string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record changes to the repository",
	Long:  `Create a new commit containing the current contents of the index and move HEAD to it.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if commitMsg == "" {
			return fmt.Errorf("commit message cannot be empty (use -m)")
		}
		// 暂不支持空提交
		if EV.Index.IsEmpty() {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to commit, index is empty")
			return nil
		}

		ctx := cmd.Context()
		start := time.Now()
		author := viper.GetString("user.name")

		// 1. 构建 Merkle Tree
		rootTree, err := treebuilder.NewBuilder(EV.Store).Build(ctx, EV.Index)
		if err != nil {
			return fmt.Errorf("failed to build tree: %w", err)
		}

		// 2. 创建 Commit 并移动 HEAD，被抢先时基于新的 HEAD 重做
		var commit *core.Commit
		head, err := EV.Refs.AdvanceHead(ctx, func(parent types.Hash) (types.Hash, error) {
			var parents []types.Hash
			if parent != "" {
				parents = []types.Hash{parent}
			}
			c, err := core.NewCommit(rootTree, parents, author, commitMsg)
			if err != nil {
				return "", fmt.Errorf("failed to create commit object: %w", err)
			}
			if err := EV.Store.Put(ctx, c); err != nil {
				return "", fmt.Errorf("failed to store commit: %w", err)
			}
			commit = c
			return c.ID(), nil
		})
		if err != nil {
			return fmt.Errorf("failed to update HEAD: %w", err)
		}

		// 3. 写入 SQL 索引，供 log 与作者查询
		if err := EV.Meta.IndexCommit(ctx, commit); err != nil {
			return fmt.Errorf("failed to index commit: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "[%s] %s\n", head.Short(), commitMsg)
		fmt.Fprintf(out, "   Time: %s | Author: %s\n", time.Since(start).Round(time.Millisecond), author)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)
	commitCmd.Flags().StringVarP(&commitMsg, "message", "m", "", "commit message")
}
