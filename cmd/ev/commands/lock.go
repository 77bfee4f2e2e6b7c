package commands

import (
	"fmt"
	"path/filepath"

	"expvault/pkg/lockfile"

	"github.com/spf13/cobra"
)

type lockAddFlags struct {
	stage string
	cmd   string
	deps  []string
	outs  []string
}

var lockAdd lockAddFlags

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage the pipeline lock file (" + lockfile.FileName + ")",
}

var lockAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Declare a stage and record the current hashes of its deps and outs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := lockPath()
		lock, err := lockfile.Load(path)
		if err != nil {
			return err
		}
		if err := lock.AddStage(lockAdd.stage, lockAdd.cmd, lockAdd.deps, lockAdd.outs); err != nil {
			return err
		}
		if err := lock.Update(EV.Root, lockAdd.stage); err != nil {
			return err
		}
		if err := lock.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stage %s recorded (%d deps, %d outs)\n", lockAdd.stage, len(lockAdd.deps), len(lockAdd.outs))
		return nil
	},
}

var lockUpdateCmd = &cobra.Command{
	Use:   "update [stage]...",
	Short: "Re-record the hashes of stages (all stages by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := lockPath()
		lock, err := lockfile.Load(path)
		if err != nil {
			return err
		}
		if err := lock.Update(EV.Root, args...); err != nil {
			return err
		}
		if err := lock.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", lockfile.FileName)
		return nil
	},
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deps and outs that changed since they were recorded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		det := lockfile.NewDetector(EV.Root)
		deps, err := det.Dependencies(ctx)
		if err != nil {
			return err
		}
		report, err := det.Check(ctx, deps)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		stale := 0
		for _, st := range report {
			if !st.IsStale() {
				continue
			}
			stale++
			fmt.Fprintf(out, "%s\t%s (%s)\n", st.Stage, st.Path, st.Kind)
		}
		if stale == 0 {
			fmt.Fprintln(out, "Everything is up to date.")
		}
		return nil
	},
}

func lockPath() string {
	return filepath.Join(EV.Root, lockfile.FileName)
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockAddCmd, lockUpdateCmd, lockStatusCmd)

	f := lockAddCmd.Flags()
	f.StringVarP(&lockAdd.stage, "stage", "s", "", "stage name")
	f.StringVarP(&lockAdd.cmd, "cmd", "c", "", "command that produces the outs")
	f.StringArrayVarP(&lockAdd.deps, "deps", "d", nil, "dependency path (repeatable)")
	f.StringArrayVarP(&lockAdd.outs, "outs", "o", nil, "output path (repeatable)")
	cobra.CheckErr(lockAddCmd.MarkFlagRequired("stage"))
}
