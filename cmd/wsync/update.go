package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"wsync-go/internal/app"
	"wsync-go/internal/tui"
	"wsync-go/internal/wsync"
)

var isTerminal = term.IsTerminal

func interactive() bool {
	return isTerminal(int(os.Stdout.Fd())) && isTerminal(int(os.Stdin.Fd()))
}

// runUpdate builds the context for req and runs it, asking before writable
// files are clobbered. With autoClobber every blocked file is overwritten.
func runUpdate(ctx context.Context, a *app.WsyncApp, title string, req app.UpdateRequest, autoClobber bool) error {
	uctx, err := a.NewUpdateContext(ctx, req)
	if err != nil {
		return err
	}

	for {
		c, err := execute(ctx, a, title, uctx)
		if err != nil {
			return err
		}
		if c.Err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", c.Err)
		}

		if c.Result == wsync.ResultFilesToClobber {
			pending := uctx.PendingClobbers()
			if autoClobber || confirmClobber(pending) {
				uctx.ApproveAllClobbers()
				continue
			}
		}

		printCompletion(c, a.SyncLogPath())
		switch {
		case c.Result.IsFailure():
			return fmt.Errorf("%s", c.Result)
		case c.Result == wsync.ResultCanceled:
			return fmt.Errorf("update canceled")
		}
		if req.Options.Has(wsync.OptionRunAfterSync) {
			return a.LaunchEditor()
		}
		return nil
	}
}

// execute runs uctx once, in the progress view when attached to a terminal.
func execute(ctx context.Context, a *app.WsyncApp, title string, uctx *wsync.WorkspaceUpdateContext) (wsync.UpdateCompletion, error) {
	if !interactive() {
		return a.RunUpdate(ctx, uctx, os.Stdout)
	}

	view := tui.NewOutputWriter(256)
	defer view.Close()
	done, err := a.StartUpdate(ctx, uctx, view)
	if err != nil {
		return wsync.UpdateCompletion{}, err
	}
	return tui.Run(title, a.Workspace(), done, view, a.Workspace().CancelUpdate)
}

func confirmClobber(paths []string) bool {
	fmt.Printf("%d writable file(s) would be overwritten:\n", len(paths))
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
	if !interactive() {
		fmt.Println("Rerun with --clobber to overwrite them.")
		return false
	}
	return confirm("Overwrite these files?")
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printCompletion(c wsync.UpdateCompletion, syncLog string) {
	fmt.Printf("Result: %s\n", c.Result)
	if c.Message != "" {
		fmt.Println(c.Message)
	}
	if c.Result.IsFailure() {
		fmt.Printf("Full output: %s\n", syncLog)
	}
}
