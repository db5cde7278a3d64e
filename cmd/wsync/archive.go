package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"wsync-go/internal/app"
	"wsync-go/internal/archive"
	"wsync-go/internal/wsync"
)

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage precompiled binary archives",
}

var archivePublishCmd = &cobra.Command{
	Use:   "publish FILE|DIR",
	Short: "Publish precompiled binaries for a change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		source, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving %s: %w", args[0], err)
		}
		change, _ := cmd.Flags().GetInt("change")
		if change <= 0 {
			return fmt.Errorf("--change is required")
		}
		typ, _ := cmd.Flags().GetString("type")
		recipient, _ := cmd.Flags().GetString("recipient")

		a, err := newApp(cmd, "Publish", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		m, err := a.PublishArchive(cmd.Context(), archive.PublishRequest{Type: typ, Change: change, Source: source}, recipient)
		if err != nil {
			return err
		}
		fmt.Printf("Published %s archive for change %d\n", m.Type, m.Change)
		fmt.Printf("Key:       %s\n", m.Key)
		fmt.Printf("Size:      %d bytes\n", m.Size)
		fmt.Printf("BLAKE3:    %s\n", m.Digest)
		fmt.Printf("Encrypted: %v\n", m.Encrypted)
		return nil
	},
}

// schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily scheduled sync",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll for changes and sync at the scheduled time until interrupted",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "Schedule", args)
		if err != nil {
			return err
		}
		defer finish(a, &err)

		s := a.Config().Schedule
		fmt.Printf("Scheduled sync daily at %s to the latest %s change. Press Ctrl+C to stop.\n", s.Time, s.Change)
		return a.RunSchedule(cmd.Context())
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase()
		if err != nil {
			return err
		}
		recipient, err := app.InitKeys(cfg, passphrase)
		if err != nil {
			return err
		}
		fmt.Printf("Archive keys created.\n")
		fmt.Printf("Public key: %s\n", recipient)
		fmt.Printf("Set %s to unlock the private key when installing archives.\n", app.PassphraseEnv)
		return nil
	},
}

// readPassphrase takes the passphrase from the environment, the terminal or
// one line of stdin, in that order.
func readPassphrase() (string, error) {
	if p := os.Getenv(app.PassphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Fprint(os.Stderr, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

func init() {
	// sync and build
	addSyncFlags(syncCmd)
	buildCmd.Flags().Bool("incremental", false, "Build incrementally instead of rebuilding")
	buildCmd.Flags().Bool("generate", false, "Generate project files before building")
	rootCmd.AddCommand(syncCmd, buildCmd, generateCmd)

	// tool subcommands
	toolCmd.AddCommand(toolListCmd, toolRunCmd, toolSetCmd)
	toolListCmd.Flags().Bool("all", false, "List every build step, not only tools")
	toolSetCmd.Flags().String("description", "", "Step description")
	toolSetCmd.Flags().String("type", "", "Step type: Compile, Cook or Other")
	toolSetCmd.Flags().String("file", "", "Program to run for Cook and Other steps")
	toolSetCmd.Flags().String("working-dir", "", "Working directory of the program")
	toolSetCmd.Flags().String("args", "", "Arguments, may reference $(Variables)")
	toolSetCmd.Flags().Int("minutes", 1, "Estimated duration in minutes")
	toolSetCmd.Flags().Bool("normal-sync", false, "Run the step with every build")
	toolSetCmd.Flags().Bool("show-as-tool", false, "Offer the step in 'tool list'")
	toolSetCmd.Flags().Bool("remove", false, "Drop the overrides of the step")
	rootCmd.AddCommand(toolCmd)

	// workspace queries
	changesCmd.Flags().IntP("limit", "n", 0, "Number of changes to fetch")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	cleanCmd.Flags().BoolP("yes", "y", false, "Delete without asking")
	cleanCmd.Flags().BoolP("verbose", "v", false, "List every file")
	verdictCmd.AddCommand(verdictSetCmd)
	rootCmd.AddCommand(changesCmd, statusCmd, historyCmd, cleanCmd, verdictCmd)

	// archives, schedule and keys
	archivePublishCmd.Flags().Int("change", 0, "Change number the binaries were built from")
	archivePublishCmd.Flags().String("type", wsync.EditorArchiveType, "Archive type")
	archivePublishCmd.Flags().String("recipient", "", "Encrypt to this age public key instead of the configured keys")
	archiveCmd.AddCommand(archivePublishCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
	keysCmd.AddCommand(keysInitCmd)
	rootCmd.AddCommand(archiveCmd, scheduleCmd, keysCmd)
}
