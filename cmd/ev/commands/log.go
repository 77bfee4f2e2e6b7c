package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"expvault/pkg/core"
	"expvault/pkg/exporter"
	"expvault/pkg/refs"
	"expvault/pkg/types"

	"github.com/spf13/cobra"
)

type logFlags struct {
	author string
	limit  int
}

var logOpts logFlags

var logCmd = &cobra.Command{
	Use:   "log [commit]",
	Short: "Show commit logs",
	Long:  `Display the commit history starting from the given commit (or HEAD). Experiments are never shown here.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if logOpts.author != "" {
			if len(args) > 0 {
				return errors.New("--author cannot be combined with a starting commit")
			}
			return logByAuthor(cmd, logOpts.author, logOpts.limit)
		}

		// 1. 确定起始点
		var current types.Hash
		if len(args) > 0 {
			full, err := EV.Store.ExpandHash(ctx, types.HashPrefix(args[0]))
			if err != nil {
				return fmt.Errorf("invalid commit argument '%s': %w", args[0], err)
			}
			current = full
		} else {
			head, _, err := EV.Refs.GetHead(ctx)
			if errors.Is(err, refs.ErrNoHead) {
				fmt.Fprintln(cmd.OutOrStdout(), "No commits yet.")
				return nil
			}
			if err != nil {
				return err
			}
			current = head
		}

		// 2. 沿第一父节点遍历
		exp := exporter.NewExporter(EV.Store)
		for current != "" {
			commit, err := exp.ReadCommit(ctx, current)
			if err != nil {
				return fmt.Errorf("object %s is not a readable commit: %w", current.Short(), err)
			}
			printCommitLog(cmd.OutOrStdout(), current, commit)

			current = ""
			if len(commit.Parents) > 0 {
				current = commit.Parents[0].Hash
			}
		}
		return nil
	},
}

// logByAuthor 从提交索引按作者查询，最新的在前
func logByAuthor(cmd *cobra.Command, author string, limit int) error {
	ctx := cmd.Context()
	commits, err := EV.Meta.FindCommitsByAuthor(ctx, author, limit)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No commits by %s.\n", author)
		return nil
	}
	exp := exporter.NewExporter(EV.Store)
	for _, c := range commits {
		h := types.Hash(c.Hash)
		commit, err := exp.ReadCommit(ctx, h)
		if err != nil {
			return fmt.Errorf("indexed commit %s is not readable: %w", h.Short(), err)
		}
		printCommitLog(cmd.OutOrStdout(), h, commit)
	}
	return nil
}

func printCommitLog(w io.Writer, hash types.Hash, c *core.Commit) {
	fmt.Fprintf(w, "commit %s\n", hash)
	fmt.Fprintf(w, "Author: %s\n", c.Author)
	if c.Timestamp != 0 {
		fmt.Fprintf(w, "Date:   %s\n", time.Unix(c.Timestamp, 0).Format(time.RFC1123))
	}
	fmt.Fprintf(w, "\n    %s\n\n", c.Message)
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().StringVar(&logOpts.author, "author", "", "only show commits by this author (newest first)")
	logCmd.Flags().IntVarP(&logOpts.limit, "max-count", "n", 0, "limit the number of commits shown with --author")
}
