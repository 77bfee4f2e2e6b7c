package commands

import (
	"fmt"

	"expvault/pkg/exporter"
	"expvault/pkg/types"

	"github.com/spf13/cobra"
)

var catRaw bool

var catCmd = &cobra.Command{
	Use:   "cat <hash>",
	Short: "Show an object by hash",
	Long:  `Print a commit, tree, manifest or file node in readable form. With --raw, a file node is reassembled and written to stdout.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		hash, err := EV.Store.ExpandHash(ctx, types.HashPrefix(args[0]))
		if err != nil {
			return fmt.Errorf("invalid object '%s': %w", args[0], err)
		}

		exp := exporter.NewExporter(EV.Store)
		if catRaw {
			// 二进制文件可以通过 > file.bin 重定向
			return exp.ExportFile(ctx, hash, cmd.OutOrStdout())
		}
		return exp.PrintObject(ctx, hash, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().BoolVar(&catRaw, "raw", false, "dump the file content")
}
