package commands

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <path>...",
	Short: "Add file contents to the index",
	Long:  `Ingest files into the object store and start tracking them. Directories are walked recursively and .evignore rules apply.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		start := time.Now()

		added := 0
		var totalSize int64

		for _, target := range args {
			abs, err := filepath.Abs(target)
			if err != nil {
				return err
			}
			err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				rel, err := workspaceRel(path)
				if err != nil {
					return err
				}
				if d.IsDir() {
					if rel != "." && EV.Ignore.MatchesDir(rel) {
						return filepath.SkipDir
					}
					return nil
				}
				if !d.Type().IsRegular() || EV.Ignore.Matches(rel) {
					return nil
				}

				res, err := EV.Ingester.IngestPath(ctx, path)
				if err != nil {
					return fmt.Errorf("failed to ingest %s: %w", rel, err)
				}
				EV.Index.Add(rel, res.Root, res.Size)
				added++
				totalSize += res.Size
				return nil
			})
			if err != nil {
				return fmt.Errorf("walk failed: %w", err)
			}
		}

		if added == 0 {
			fmt.Fprintln(out, "No files added.")
			return nil
		}
		if err := EV.Index.Save(); err != nil {
			return fmt.Errorf("failed to save index: %w", err)
		}
		fmt.Fprintf(out, "Added %d files (%d bytes) in %s\n", added, totalSize, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

// workspaceRel 把路径转换为相对工作区根目录的 slash 路径
func workspaceRel(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(EV.Root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the workspace %s", path, EV.Root)
	}
	return filepath.ToSlash(rel), nil
}

func init() {
	rootCmd.AddCommand(addCmd)
}
