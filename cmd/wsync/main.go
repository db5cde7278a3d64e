package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"wsync-go/internal/app"
	"wsync-go/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file at the default location.
func loadConfig() (*config.Config, string, error) {
	loc, err := config.DefaultLocations()
	if err != nil {
		return nil, "", fmt.Errorf("locating config: %w", err)
	}
	cfg, err := config.ReadFromFile(loc.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, loc.ConfigPath, nil
}

// newApp reads the config and creates a WsyncApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Clean").
func newApp(cmd *cobra.Command, operation string, args []string) (*app.WsyncApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewWsyncApp(cmd.Context(), cfg, operation, strings.Join(args, " "))
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// finish closes a and marks its operation failed when err is set.
func finish(a *app.WsyncApp, err *error) {
	if *err != nil {
		a.Operation().Fail()
	}
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

var rootCmd = &cobra.Command{
	Use:          "wsync",
	Short:        "Keep a game workspace synced and built",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := config.DefaultLocations()
		if err != nil {
			return fmt.Errorf("locating config: %w", err)
		}

		server, _ := cmd.Flags().GetString("server")
		depot, _ := cmd.Flags().GetString("depot")
		root, _ := cmd.Flags().GetString("root")
		project, _ := cmd.Flags().GetString("project")

		name := "wsync"
		if root != "" {
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving workspace root: %w", err)
			}
			root = abs
			name = filepath.Base(abs)
		}

		cfg := config.NewConfig(name, loc.BaseDir)
		cfg.Workspace.Server = server
		cfg.Workspace.DepotPath = strings.TrimSuffix(depot, "/")
		cfg.Workspace.LocalRoot = root
		cfg.Workspace.ProjectFile = project
		cfg.VCS.Port = server

		if err := config.Init(loc.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", loc.ConfigPath)
		fmt.Printf("Workspace: %s\n", cfg.WorkspaceID())
		fmt.Printf("Base Dir:  %s\n", loc.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Name:         %s\n", cfg.Name)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Server:       %s\n", cfg.Workspace.Server)
		fmt.Printf("Depot Path:   %s\n", cfg.Workspace.DepotPath)
		fmt.Printf("Local Root:   %s\n", cfg.Workspace.LocalRoot)
		fmt.Printf("Project:      %s\n", cfg.Workspace.ProjectFile)
		fmt.Printf("Archives:     %s (%s)\n", cfg.Archive.Type, cfg.Archive.Name)
		fmt.Printf("Encryption:   %s\n", cfg.Encryption.Type)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Build Steps:  %d override(s)\n", len(cfg.BuildSteps))
		if cfg.Schedule.Enabled {
			fmt.Printf("Schedule:     daily at %s, latest %s change\n", cfg.Schedule.Time, cfg.Schedule.Change)
		} else {
			fmt.Printf("Schedule:     disabled\n")
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("server", "", "Perforce server address (host:port)")
	configInitCmd.Flags().String("depot", "", "Depot path of the stream, e.g. //depot/Game")
	configInitCmd.Flags().String("root", "", "Local root of the workspace")
	configInitCmd.Flags().String("project", "", "Project file relative to the root, e.g. Game/Game.uproject")

	rootCmd.AddCommand(configCmd)
}
