// Package perforce implements the wsync version control client on top of
// the p4 command line, reading its tagged (-ztag) output.
package perforce

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"wsync-go/internal/config"
	"wsync-go/internal/wsync"
)

// Messages p4 prints on stderr that are not failures.
var benignMessages = []string{
	"file(s) up-to-date",
	"file(s) not opened on this client",
	"no file(s) to reconcile",
	"no file(s) to resolve",
	"no such file(s)",
}

const clobberPrefix = "can't clobber writable file "

// Client drives one Perforce workspace.
type Client struct {
	runner    Runner
	global    []string
	depotRoot string // //depot/Game/ with trailing slash
	localRoot string
	logger    wsync.Logger
}

// NewClient creates a Client for the workspace id using the p4 executable.
func NewClient(cfg config.VCSConfig, id wsync.WorkspaceID, logger wsync.Logger) (*Client, error) {
	if cfg.Type != "" && cfg.Type != "perforce" {
		return nil, fmt.Errorf("unknown vcs type: %q", cfg.Type)
	}
	return NewClientWithRunner(ExecRunner{Path: cfg.P4Path}, cfg, id, logger)
}

// NewClientWithRunner creates a Client that sends commands to runner.
func NewClientWithRunner(runner Runner, cfg config.VCSConfig, id wsync.WorkspaceID, logger wsync.Logger) (*Client, error) {
	if !strings.HasPrefix(id.DepotPath, "//") {
		return nil, fmt.Errorf("workspace depot path %q must start with //", id.DepotPath)
	}
	if id.LocalRoot == "" {
		return nil, fmt.Errorf("workspace local root is required")
	}
	if logger == nil {
		logger = wsync.NewNopLogger()
	}

	port := cfg.Port
	if port == "" {
		port = id.Server
	}
	var global []string
	if port != "" {
		global = append(global, "-p", port)
	}
	if cfg.User != "" {
		global = append(global, "-u", cfg.User)
	}
	if cfg.Client != "" {
		global = append(global, "-c", cfg.Client)
	}

	root := strings.TrimSuffix(strings.TrimSuffix(id.DepotPath, "..."), "/") + "/"
	return &Client{
		runner:    runner,
		global:    global,
		depotRoot: root,
		localRoot: filepath.Clean(id.LocalRoot),
		logger:    logger,
	}, nil
}

// result is a parsed p4 invocation.
type result struct {
	records  []Record
	messages []string
}

// run executes a p4 command. files, when non-nil, are passed on stdin with
// the -x - global option. A non-zero exit with only benign messages is not
// an error; clobber messages are returned to the caller to interpret.
func (c *Client) run(ctx context.Context, files []string, args ...string) (*result, error) {
	full := append([]string{}, c.global...)
	var stdin io.Reader
	if files != nil {
		full = append(full, "-x", "-")
		stdin = strings.NewReader(strings.Join(files, "\n") + "\n")
	}
	full = append(full, "-ztag")
	full = append(full, args...)

	c.logger.Debug("running p4", "args", strings.Join(args, " "), "files", len(files))
	out, err := c.runner.Run(ctx, full, stdin)
	if err != nil {
		return nil, fmt.Errorf("p4 %s: %w", args[0], err)
	}
	res := &result{records: parseRecords(out.Stdout), messages: messageLines(out.Stderr)}
	if out.ExitCode == 0 {
		return res, nil
	}
	for _, m := range res.messages {
		if !isBenign(m) && !strings.HasPrefix(strings.ToLower(m), clobberPrefix) {
			return nil, fmt.Errorf("p4 %s: %s", args[0], m)
		}
	}
	if len(res.messages) == 0 {
		return nil, fmt.Errorf("p4 %s: exit code %d", args[0], out.ExitCode)
	}
	return res, nil
}

func isBenign(msg string) bool {
	msg = strings.ToLower(msg)
	for _, b := range benignMessages {
		if strings.Contains(msg, b) {
			return true
		}
	}
	return false
}

func (c *Client) allFiles() string {
	return c.depotRoot + "..."
}

// revSpec is the revision range a sync targets.
func revSpec(change int, single bool) string {
	if single {
		return fmt.Sprintf("@%d,@%d", change, change)
	}
	return fmt.Sprintf("@%d", change)
}

// relative maps a depot path or a local path to a workspace-relative path.
func (c *Client) relative(p string) (string, bool) {
	if i := strings.IndexByte(p, '#'); i >= 0 {
		p = p[:i]
	}
	if strings.HasPrefix(p, "//") {
		if len(p) <= len(c.depotRoot) || !strings.EqualFold(p[:len(c.depotRoot)], c.depotRoot) {
			return "", false
		}
		return p[len(c.depotRoot):], true
	}
	rel, err := filepath.Rel(c.localRoot, filepath.Clean(p))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// recordPath returns the workspace-relative path of a file record.
func (c *Client) recordPath(rec Record) (string, bool) {
	for _, key := range []string{"depotFile", "clientFile", "path"} {
		if p, ok := rec[key]; ok {
			if rel, ok := c.relative(p); ok {
				return rel, true
			}
		}
	}
	return "", false
}

func (c *Client) GetChanges(ctx context.Context, maxChanges int) ([]wsync.Change, error) {
	if maxChanges < 1 {
		maxChanges = 1
	}
	res, err := c.run(ctx, nil, "changes", "-l", "-s", "submitted", "-m", strconv.Itoa(maxChanges), c.allFiles())
	if err != nil {
		return nil, err
	}
	changes := make([]wsync.Change, 0, len(res.records))
	for _, rec := range res.records {
		n, err := strconv.Atoi(rec["change"])
		if err != nil {
			return nil, fmt.Errorf("parsing change number %q: %w", rec["change"], err)
		}
		change := wsync.Change{
			Number:      n,
			User:        rec["user"],
			Description: strings.TrimSpace(rec["desc"]),
		}
		if secs, err := strconv.ParseInt(rec["time"], 10, 64); err == nil {
			change.Date = time.Unix(secs, 0).UTC()
		}
		changes = append(changes, change)
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Number > changes[j].Number })
	return changes, nil
}

// DescribeChange returns the depot files of a change as path#rev.
func (c *Client) DescribeChange(ctx context.Context, change int) ([]string, error) {
	res, err := c.run(ctx, nil, "describe", "-s", strconv.Itoa(change))
	if err != nil {
		return nil, err
	}
	if len(res.records) == 0 {
		return nil, fmt.Errorf("change %d not found", change)
	}
	rec := res.records[0]
	var files []string
	for i := 0; ; i++ {
		f, ok := rec["depotFile"+strconv.Itoa(i)]
		if !ok {
			break
		}
		if rev := rec["rev"+strconv.Itoa(i)]; rev != "" {
			f += "#" + rev
		}
		files = append(files, f)
	}
	return files, nil
}

func (c *Client) PreviewSync(ctx context.Context, change int) ([]string, error) {
	res, err := c.run(ctx, nil, "sync", "-n", c.allFiles()+revSpec(change, false))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, rec := range res.records {
		if rel, ok := c.recordPath(rec); ok {
			files = append(files, rel)
		}
	}
	return files, nil
}

// Sync force-syncs the approved clobbers first, then syncs the request's
// files, then checks for files left needing resolve.
func (c *Client) Sync(ctx context.Context, req wsync.SyncRequest) (wsync.SyncOutcome, error) {
	out := req.Output
	if out == nil {
		out = io.Discard
	}
	rev := revSpec(req.ChangeNumber, req.SingleChange)

	if len(req.ForceFiles) > 0 {
		res, err := c.run(ctx, c.fileSpecs(req.ForceFiles, rev), "sync", "-f")
		if err != nil {
			return wsync.SyncOutcome{}, fmt.Errorf("force syncing clobbered files: %w", err)
		}
		c.printSynced(out, res)
	}

	var (
		res *result
		err error
	)
	if req.Files == nil {
		res, err = c.run(ctx, nil, "sync", c.allFiles()+rev)
	} else {
		res, err = c.run(ctx, c.fileSpecs(req.Files, rev), "sync")
	}
	if err != nil {
		return wsync.SyncOutcome{}, err
	}
	c.printSynced(out, res)

	var clobbered []string
	upToDate := len(res.records) == 0
	for _, m := range res.messages {
		lower := strings.ToLower(m)
		if strings.HasPrefix(lower, clobberPrefix) {
			if rel, ok := c.relative(strings.TrimSpace(m[len(clobberPrefix):])); ok {
				clobbered = append(clobbered, rel)
			}
			continue
		}
		if !strings.Contains(lower, "up-to-date") {
			upToDate = false
		}
	}
	if len(clobbered) > 0 {
		sort.Strings(clobbered)
		return wsync.SyncOutcome{Status: wsync.SyncFilesToClobber, Files: clobbered}, nil
	}

	if req.AutoResolve {
		if _, err := c.run(ctx, nil, "resolve", "-am", c.allFiles()); err != nil {
			return wsync.SyncOutcome{}, fmt.Errorf("auto-resolving: %w", err)
		}
	}
	unresolved, err := c.filesToResolve(ctx)
	if err != nil {
		return wsync.SyncOutcome{}, err
	}
	if len(unresolved) > 0 {
		return wsync.SyncOutcome{Status: wsync.SyncFilesToResolve, Files: unresolved}, nil
	}
	if upToDate {
		return wsync.SyncOutcome{Status: wsync.SyncUpToDate}, nil
	}
	return wsync.SyncOutcome{Status: wsync.SyncSucceeded}, nil
}

func (c *Client) fileSpecs(files []string, rev string) []string {
	specs := make([]string, 0, len(files))
	for _, f := range files {
		specs = append(specs, c.depotRoot+strings.TrimPrefix(filepath.ToSlash(f), "/")+rev)
	}
	return specs
}

func (c *Client) printSynced(out io.Writer, res *result) {
	for _, rec := range res.records {
		if rec["depotFile"] == "" {
			continue
		}
		fmt.Fprintf(out, "%s#%s - %s %s\n", rec["depotFile"], rec["rev"], rec["action"], rec["clientFile"])
	}
	for _, m := range res.messages {
		fmt.Fprintln(out, m)
	}
}

func (c *Client) filesToResolve(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, nil, "resolve", "-n", c.allFiles())
	if err != nil {
		return nil, fmt.Errorf("listing files to resolve: %w", err)
	}
	return c.collect(res), nil
}

func (c *Client) collect(res *result) []string {
	var files []string
	seen := map[string]bool{}
	for _, rec := range res.records {
		if rel, ok := c.recordPath(rec); ok && !seen[rel] {
			seen[rel] = true
			files = append(files, rel)
		}
	}
	sort.Strings(files)
	return files
}

func (c *Client) OpenedFiles(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, nil, "opened", c.allFiles())
	if err != nil {
		return nil, err
	}
	return c.collect(res), nil
}

// FindUntrackedFiles lists local files the server has no record of.
func (c *Client) FindUntrackedFiles(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, nil, "reconcile", "-n", "-a", filepath.Join(c.localRoot, "..."))
	if err != nil {
		return nil, err
	}
	return c.collect(res), nil
}

var _ wsync.VCS = (*Client)(nil)
