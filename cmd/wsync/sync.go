package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"wsync-go/internal/app"
	"wsync-go/internal/config"
	"wsync-go/internal/wsync"
)

// addSyncFlags registers the flags read by syncOptions.
func addSyncFlags(c *cobra.Command) {
	f := c.Flags()
	f.String("latest", "", "Sync the latest change: any or good")
	f.Bool("build", false, "Build after syncing")
	f.Bool("generate", false, "Generate project files after syncing")
	f.Bool("run", false, "Start the editor after a successful update")
	f.Bool("single", false, "Sync only the files of CHANGE on top of the current state")
	f.Bool("content-only", false, "Skip code changes")
	f.Bool("auto-resolve", false, "Resolve conflicts of opened files automatically")
	f.Bool("incremental", false, "Build incrementally instead of rebuilding")
	f.Bool("skip-shaders", false, "Skip the shader cache when syncing")
	f.Bool("clobber", false, "Overwrite writable files without asking")
	f.Bool("no-archives", false, "Do not install precompiled binary archives")
}

// syncOptions turns the sync flags into engine options.
func syncOptions(cmd *cobra.Command) wsync.WorkspaceUpdateOptions {
	flags := cmd.Flags()
	flag := func(name string) bool {
		v, _ := flags.GetBool(name)
		return v
	}

	opts := wsync.OptionSync
	if flag("single") {
		opts = wsync.OptionSyncSingleChange
	}
	if !flag("no-archives") {
		opts |= wsync.OptionSyncArchives
	}
	for name, o := range map[string]wsync.WorkspaceUpdateOptions{
		"build":        wsync.OptionBuild,
		"generate":     wsync.OptionGenerateProjectFiles,
		"run":          wsync.OptionRunAfterSync,
		"content-only": wsync.OptionContentOnly,
		"auto-resolve": wsync.OptionAutoResolveChanges,
		"incremental":  wsync.OptionUseIncrementalBuilds,
		"skip-shaders": wsync.OptionSkipShaders,
	} {
		if flag(name) {
			opts |= o
		}
	}
	return opts
}

// requiredArchives lists the archive types a change must have for a sync
// with opts.
func requiredArchives(a *app.WsyncApp, opts wsync.WorkspaceUpdateOptions) []string {
	if !opts.Has(wsync.OptionSyncArchives) {
		return nil
	}
	return a.Config().RequiredArchiveTypes()
}

var syncCmd = &cobra.Command{
	Use:   "sync [CHANGE]",
	Short: "Sync the workspace to a change and optionally build it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Sync", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		opts := syncOptions(cmd)
		latest, _ := cmd.Flags().GetString("latest")
		clobber, _ := cmd.Flags().GetBool("clobber")

		var change int
		switch {
		case len(args) == 1 && latest != "":
			return fmt.Errorf("pass either a change number or --latest, not both")
		case len(args) == 1:
			if change, err = strconv.Atoi(args[0]); err != nil || change <= 0 {
				return fmt.Errorf("invalid change number %q", args[0])
			}
		default:
			if opts.Has(wsync.OptionSyncSingleChange) {
				return fmt.Errorf("--single needs an explicit change number")
			}
			kind, err := wsync.ParseLatestChangeType(latest)
			if err != nil {
				return err
			}
			if change, err = a.ResolveLatest(cmd.Context(), kind, requiredArchives(a, opts)); err != nil {
				return err
			}
			fmt.Printf("Latest %s change is %d\n", kind, change)
		}

		title := fmt.Sprintf("Sync to %d", change)
		if opts.Has(wsync.OptionSyncSingleChange) {
			title = fmt.Sprintf("Sync change %d", change)
		}
		return runUpdate(cmd.Context(), a, title, app.UpdateRequest{Change: change, Options: opts}, clobber)
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run the build steps without syncing",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Build", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		opts := wsync.OptionBuild
		if incremental, _ := cmd.Flags().GetBool("incremental"); incremental {
			opts |= wsync.OptionUseIncrementalBuilds
		}
		if generate, _ := cmd.Flags().GetBool("generate"); generate {
			opts |= wsync.OptionGenerateProjectFiles
		}
		req := app.UpdateRequest{Change: a.Workspace().CurrentChangeNumber(), Options: opts}
		return runUpdate(cmd.Context(), a, "Build", req, false)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate project files",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "GenerateProjectFiles", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		req := app.UpdateRequest{Change: a.Workspace().CurrentChangeNumber(), Options: wsync.OptionGenerateProjectFiles}
		return runUpdate(cmd.Context(), a, "Generate project files", req, false)
	},
}

// tool command
var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "List, run and edit build steps",
}

var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the steps offered as tools",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "ToolList", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		all, _ := cmd.Flags().GetBool("all")
		var steps []wsync.BuildStep
		if all {
			steps, err = a.Steps()
		} else {
			steps, err = a.Tools()
		}
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			fmt.Println("No tools configured.")
			return nil
		}
		for _, s := range steps {
			sync := " "
			if s.NormalSync {
				sync = "S"
			}
			fmt.Printf("%s  %s  %-8s  %s\n", s.UniqueID, sync, s.Type, s.Description)
		}
		return nil
	},
}

var toolRunCmd = &cobra.Command{
	Use:   "run ID|DESCRIPTION",
	Short: "Run one build step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "ToolRun", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		step, err := a.FindStep(args[0])
		if err != nil {
			return err
		}
		req := app.UpdateRequest{
			Change:  a.Workspace().CurrentChangeNumber(),
			Options: wsync.OptionBuild | wsync.OptionUseIncrementalBuilds,
			ToolIDs: []uuid.UUID{step.UniqueID},
		}
		return runUpdate(cmd.Context(), a, step.Description, req, false)
	},
}

var toolSetCmd = &cobra.Command{
	Use:   "set ID",
	Short: "Change a build step or add a custom tool",
	Long: `Change a build step or add a custom tool.

Only the flags given are changed. A step ID that does not exist yet adds a
new custom tool. --remove drops the overrides of the step, so default steps
revert to their defaults and custom tools are deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid step id %q: %w", args[0], err)
		}
		_, path, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "ToolSet", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		flags := cmd.Flags()
		if remove, _ := flags.GetBool("remove"); remove {
			if !a.RemoveStep(id) {
				return fmt.Errorf("step %s has no overrides", id)
			}
		} else {
			var typ wsync.BuildStepType
			if flags.Changed("type") {
				s, _ := flags.GetString("type")
				if typ, err = wsync.ParseBuildStepType(s); err != nil {
					return err
				}
			}
			err = a.UpdateStep(id, func(s *wsync.BuildStep) {
				if flags.Changed("description") {
					s.Description, _ = flags.GetString("description")
				}
				if flags.Changed("type") {
					s.Type = typ
				}
				if flags.Changed("file") {
					s.FileName, _ = flags.GetString("file")
				}
				if flags.Changed("working-dir") {
					s.WorkingDir, _ = flags.GetString("working-dir")
				}
				if flags.Changed("args") {
					s.Arguments, _ = flags.GetString("args")
				}
				if flags.Changed("minutes") {
					s.EstimatedDurationMinutes, _ = flags.GetInt("minutes")
				}
				if flags.Changed("normal-sync") {
					s.NormalSync, _ = flags.GetBool("normal-sync")
				}
				if flags.Changed("show-as-tool") {
					s.ShowAsTool, _ = flags.GetBool("show-as-tool")
				}
			})
			if err != nil {
				return err
			}
		}

		if err := config.Save(path, a.Config()); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Printf("Step %s updated in %s\n", id, path)
		return nil
	},
}
