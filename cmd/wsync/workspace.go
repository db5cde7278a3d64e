package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wsync-go/internal/wsync"
)

const timeFormat = "2006-01-02 15:04"

// firstLine trims a change description for one-line listings.
func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[:n-3] + "..."
	}
	return s
}

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List recent submitted changes",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Changes", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		limit, _ := cmd.Flags().GetInt("limit")
		changes, err := a.Changes(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			fmt.Println("No changes found.")
			return nil
		}
		for _, c := range changes {
			marker := " "
			if c.Current {
				marker = ">"
			}
			archive := " "
			if c.ArchivePath != "" {
				archive = "A"
			}
			fmt.Printf("%s %8d  %-7s  %-6s %s  %s  %-12s  %s\n", marker, c.Number, c.Type, c.Verdict, archive,
				c.Date.Local().Format(timeFormat), c.User, firstLine(c.Description, 60))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the workspace",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Status", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		r := a.Status()
		s := r.State
		fmt.Printf("Workspace:     %s\n", r.Workspace)
		fmt.Printf("Current:       %d\n", s.CurrentChangeNumber)
		if len(s.AdditionalChangeNumbers) > 0 {
			nums := make([]string, len(s.AdditionalChangeNumbers))
			for i, n := range s.AdditionalChangeNumbers {
				nums[i] = strconv.Itoa(n)
			}
			fmt.Printf("Cherry-picked: %s\n", strings.Join(nums, ", "))
		}
		fmt.Printf("Last built:    %d\n", s.LastBuiltChangeNumber)
		if s.LastSyncTime.Valid {
			fmt.Printf("Last sync:     %d at %s (%s, %s)\n", s.LastSyncChangeNumber,
				s.LastSyncTime.Time.Local().Format(timeFormat), s.LastSyncResult,
				(time.Duration(s.LastSyncDurationSeconds) * time.Second).String())
			if s.LastSyncResultMessage != "" {
				fmt.Printf("               %s\n", s.LastSyncResultMessage)
			}
		} else {
			fmt.Printf("Last sync:     never\n")
		}
		if len(s.ExpandedArchiveTypes) > 0 {
			fmt.Printf("Archives:      %s\n", strings.Join(s.ExpandedArchiveTypes, ", "))
		}
		fmt.Printf("Sync log:      %s\n", r.SyncLog)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent update runs",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "History", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No update runs recorded.")
			return nil
		}
		for _, r := range runs {
			kind := "manual"
			if r.Scheduled {
				kind = "scheduled"
			}
			fmt.Printf("%s  %8d  %-18s  %-9s  %8s  %s\n", r.StartedAt.Local().Format(timeFormat), r.ChangeNumber,
				r.Result, kind, r.Duration().Round(time.Second), r.Options)
			if r.Message != "" {
				fmt.Printf("    %s\n", r.Message)
			}
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete files that are not under version control",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Clean", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		tree, err := a.ScanUntracked(cmd.Context())
		if err != nil {
			return err
		}
		plan := tree.Plan()
		if len(plan.Files) == 0 {
			fmt.Println("Workspace is clean.")
			return nil
		}

		verbose, _ := cmd.Flags().GetBool("verbose")
		for _, f := range plan.Files {
			if verbose {
				fmt.Printf("  %s\n", f)
			}
		}
		fmt.Printf("%d untracked file(s) in %d folder(s) will be deleted.\n", len(plan.Files), len(plan.Directories))

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && (!interactive() || !confirm("Delete them?")) {
			fmt.Println("Nothing deleted.")
			return nil
		}

		report := a.Clean(plan)
		fmt.Printf("Deleted %d file(s) and %d folder(s).\n", report.FilesDeleted, report.DirsDeleted)
		for _, f := range report.Failed {
			fmt.Printf("  failed: %s: %v\n", f.Path, f.Err)
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d file(s) could not be deleted", len(report.Failed))
		}
		return nil
	},
}

// verdict command
var verdictCmd = &cobra.Command{
	Use:   "verdict",
	Short: "Record CI results for changes",
}

var verdictSetCmd = &cobra.Command{
	Use:   "set CHANGE good|bad|mixed|none",
	Short: "Set the verdict of a change",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		change, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid change number %q", args[0])
		}
		verdict, err := wsync.ParseVerdict(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "Verdict", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		if err := a.SetVerdict(change, verdict); err != nil {
			return err
		}
		fmt.Printf("Change %d marked %s\n", change, verdict)
		return nil
	},
}
