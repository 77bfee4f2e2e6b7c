package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"expvault/pkg/exp"
	"expvault/pkg/exp/experr"
	"expvault/pkg/metrics"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var expCmd = &cobra.Command{
	Use:   "exp",
	Short: "Save, inspect and promote experiments",
	Long:  `Experiments are snapshots of the workspace stored under hidden refs. They do not move HEAD and are not listed as branches.`,
}

type expSaveFlags struct {
	name             string
	message          string
	parent           string
	force            bool
	json             bool
	metrics          bool
	includeUntracked bool
}

var saveFlags expSaveFlags

// saveResult 是 exp save --json 的输出
type saveResult struct {
	Ref     string           `json:"ref"`
	Name    string           `json:"name"`
	Metrics metrics.Snapshot `json:"metrics,omitempty"`
}

var expSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the current workspace as an experiment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		saved, err := EV.Exps.SaveExperiment(ctx, exp.SaveOptions{
			Name:             saveFlags.name,
			Force:            saveFlags.force,
			Message:          saveFlags.message,
			Parent:           saveFlags.parent,
			IncludeUntracked: saveFlags.includeUntracked,
		})
		for _, p := range experr.Paths(err) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\tmodified: %s\n", p)
		}
		if err != nil {
			return err
		}

		var snap metrics.Snapshot
		if saveFlags.metrics || saveFlags.json {
			if snap, err = EV.Metrics.Read(ctx, saved.Ref); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if saveFlags.json {
			return writeJSON(out, saveResult{Ref: saved.Ref.String(), Name: saved.Name, Metrics: snap})
		}

		fmt.Fprintf(out, "Experiment has been saved as: %s\n", saved.Name)
		fmt.Fprintf(out, "To promote an experiment to a branch run:\n\n\tev exp branch %s <branch>\n\n", saved.Name)
		if saveFlags.metrics {
			printMetrics(out, snap)
		}
		return nil
	},
}

func printMetrics(w io.Writer, snap metrics.Snapshot) {
	if len(snap) == 0 {
		fmt.Fprintln(w, "No metrics found.")
		return
	}
	for _, file := range slices.Sorted(maps.Keys(snap)) {
		fmt.Fprintf(w, "%s:\n", file)
		values := snap[file]
		for _, key := range slices.Sorted(maps.Keys(values)) {
			fmt.Fprintf(w, "  %s: %v\n", key, values[key])
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(expCmd)
	expCmd.AddCommand(expSaveCmd)

	f := expSaveCmd.Flags()
	f.StringVarP(&saveFlags.name, "name", "n", "", "experiment name (generated when empty)")
	f.StringVar(&saveFlags.message, "message", "", "message stored in the snapshot commit")
	f.StringVar(&saveFlags.parent, "parent", "", "continue from an existing experiment instead of HEAD")
	f.BoolVarP(&saveFlags.force, "force", "f", false, "save even if dependencies changed, overwrite an existing name")
	f.BoolVar(&saveFlags.json, "json", false, "print the result as JSON (alias: --show-json)")
	f.BoolVarP(&saveFlags.metrics, "metrics", "m", false, "show the metrics of the saved experiment")
	f.BoolVar(&saveFlags.includeUntracked, "include-untracked", false, "also snapshot files that are not tracked")
	f.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "show-json" {
			name = "json"
		}
		return pflag.NormalizedName(name)
	})
}
