package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"expvault/pkg/exp/refstore"

	"github.com/spf13/cobra"
)

type expListFlags struct {
	all  bool
	json bool
}

var listFlags expListFlags

type listEntry struct {
	Name      string    `json:"name"`
	Ref       string    `json:"ref"`
	Baseline  string    `json:"baseline"`
	CreatedAt time.Time `json:"created_at"`
	Forced    []string  `json:"forced,omitempty"` // 强制保存时过期的依赖
}

var expListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments of HEAD (or of every baseline with --all)",
	Long: `List experiments, newest first. An experiment saved under several names
is listed once under its canonical (earliest) name. FORCED shows dependencies
that were already modified when the experiment was saved with --force.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		exps, err := refstore.Collect(EV.Exps.List(ctx, listFlags.all))
		if err != nil {
			return err
		}
		forced, err := EV.Exps.Forced(ctx, exps)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if listFlags.json {
			entries := make([]listEntry, 0, len(exps))
			for _, e := range exps {
				entries = append(entries, listEntry{
					Name:      e.Name,
					Ref:       e.Ref.String(),
					Baseline:  e.Baseline.String(),
					CreatedAt: e.CreatedAt,
					Forced:    forced[e.Ref],
				})
			}
			return writeJSON(out, entries)
		}

		if len(exps) == 0 {
			fmt.Fprintln(out, "No experiments.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tREF\tBASELINE\tCREATED\tFORCED")
		for _, e := range exps {
			stale := "-"
			if paths := forced[e.Ref]; len(paths) > 0 {
				stale = strings.Join(paths, ",")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Ref.Short(), e.Baseline.Short(), e.CreatedAt.Local().Format(time.DateTime), stale)
		}
		return tw.Flush()
	},
}

var expShowCmd = &cobra.Command{
	Use:   "show <exp>",
	Short: "Show an experiment with its dependency manifest and metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := EV.Exps.Show(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Experiment: %s\n", d.Name)
		fmt.Fprintf(out, "Ref:        %s\n", d.Ref)
		fmt.Fprintf(out, "Baseline:   %s\n", d.Baseline)
		fmt.Fprintf(out, "Parent:     %s\n", d.Parent)
		fmt.Fprintf(out, "Author:     %s\n", d.Commit.Author)
		if d.Commit.Message != "" {
			fmt.Fprintf(out, "Message:    %s\n", d.Commit.Message)
		}

		if d.Manifest != nil && len(d.Manifest.Entries) > 0 {
			fmt.Fprintln(out, "\nDependencies:")
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, e := range d.Manifest.Entries {
				state := ""
				if e.Stale() {
					state = "modified"
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", e.Stage, e.Kind, e.Path, shortLinear(string(e.Current)), state)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}

		snap, err := EV.Metrics.Read(ctx, d.Ref)
		if err != nil {
			return err
		}
		if len(snap) > 0 {
			fmt.Fprintln(out, "\nMetrics:")
			printMetrics(out, snap)
		}
		return nil
	},
}

func shortLinear(h string) string {
	if h == "" {
		return "-"
	}
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func init() {
	expCmd.AddCommand(expListCmd, expShowCmd)

	expListCmd.Flags().BoolVarP(&listFlags.all, "all", "A", false, "list experiments of every baseline")
	expListCmd.Flags().BoolVar(&listFlags.json, "json", false, "print the result as JSON")
}
