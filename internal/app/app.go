package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"wsync-go/internal/archive"
	"wsync-go/internal/config"
	"wsync-go/internal/database"
	"wsync-go/internal/encryption"
	"wsync-go/internal/fs"
	"wsync-go/internal/perforce"
	"wsync-go/internal/process"
	"wsync-go/internal/wsync"
)

// PassphraseEnv holds the passphrase of the archive private key.
const PassphraseEnv = "WSYNC_KEY_PASSPHRASE"

// WsyncApp is the application layer between the CLI and the update engine.
// It constructs all dependencies from config, exposes the driver
// operations and releases resources on Close.
type WsyncApp struct {
	cfg    *config.Config
	op     *Operation
	clock  wsync.Clock
	logger *slog.Logger
	log    wsync.Logger

	logFile        *os.File
	syncLog        *syncLog
	output         *runOutput
	shutdownTracer func(context.Context) error

	db        *database.SQLiteDatabase
	vcs       wsync.VCS
	store     archive.Store
	keys      encryption.Keys
	files     wsync.FilesystemManager
	catalog   *wsync.ChangeCatalog
	workspace *wsync.Workspace
}

type appOptions struct {
	vcs       wsync.VCS
	runner    wsync.ProcessRunner
	store     archive.Store
	files     wsync.FilesystemManager
	clock     wsync.Clock
	ids       wsync.IDGenerator
	logMirror io.Writer
}

// Option replaces a collaborator NewWsyncApp would otherwise build from config.
type Option func(*appOptions)

func WithVCS(v wsync.VCS) Option                 { return func(o *appOptions) { o.vcs = v } }
func WithRunner(r wsync.ProcessRunner) Option    { return func(o *appOptions) { o.runner = r } }
func WithArchiveStore(s archive.Store) Option    { return func(o *appOptions) { o.store = s } }
func WithFiles(f wsync.FilesystemManager) Option { return func(o *appOptions) { o.files = f } }
func WithClock(c wsync.Clock) Option             { return func(o *appOptions) { o.clock = c } }
func WithIDs(g wsync.IDGenerator) Option         { return func(o *appOptions) { o.ids = g } }

// WithLogMirror sets where log lines go besides wsync.log. The default is stderr.
func WithLogMirror(w io.Writer) Option { return func(o *appOptions) { o.logMirror = w } }

// NewWsyncApp creates a fully wired WsyncApp from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Clean").
// The caller must call Close when done.
func NewWsyncApp(ctx context.Context, cfg *config.Config, operation, parameters string, opts ...Option) (_ *WsyncApp, err error) {
	o := appOptions{clock: wsync.RealClock{}, ids: wsync.UUIDGenerator{}}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Workspace.LocalRoot == "" {
		return nil, fmt.Errorf("workspace.local_root is not configured")
	}
	if cfg.Workspace.DepotPath == "" {
		return nil, fmt.Errorf("workspace.depot_path is not configured")
	}

	a := &WsyncApp{cfg: cfg, clock: o.clock, op: NewOperation(operation, parameters, o.clock.Now())}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	var level slog.Level
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
		}
	}
	logger, logFile, err := newLogger(cfg.LogDir, a.op.ID, o.logMirror, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logger, a.logFile = logger, logFile
	a.log = &slogAdapter{l: logger}

	if a.shutdownTracer, err = initTracer(cfg, a.op.ID); err != nil {
		return nil, err
	}

	if a.syncLog, err = openSyncLog(cfg.LogDir); err != nil {
		return nil, err
	}
	a.output = &runOutput{log: a.syncLog}

	if a.db, err = database.NewDatabaseFromConfig(cfg.Database, databaseName(cfg)); err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := a.db.CheckMigrations(); err != nil {
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	id := cfg.WorkspaceID()
	a.vcs = o.vcs
	if a.vcs == nil {
		if a.vcs, err = perforce.NewClient(cfg.VCS, id, a.log); err != nil {
			return nil, fmt.Errorf("creating VCS client: %w", err)
		}
	}

	a.store = o.store
	if a.store == nil {
		if a.store, err = archive.NewStoreFromConfig(ctx, cfg.Archive); err != nil {
			return nil, fmt.Errorf("creating archive store: %w", err)
		}
	}

	if a.keys, err = encryption.NewKeysFromConfig(cfg.Encryption); err != nil {
		return nil, fmt.Errorf("creating archive keys: %w", err)
	}

	a.files = o.files
	if a.files == nil {
		a.files = fs.NewOSFilesystemManager()
	}

	a.catalog = wsync.NewChangeCatalog(a.vcs, archive.NewIndex(a.store), a.db, archiveTypes(cfg), a.log)
	if cfg.Catalog.MaxChanges > 0 {
		a.catalog.SetPendingMaxChanges(cfg.Catalog.MaxChanges)
	}

	runner := o.runner
	if runner == nil {
		exec := process.NewExecRunner(a.log)
		exec.Env = []string{
			"WSYNC_WORKSPACE_ROOT=" + cfg.Workspace.LocalRoot,
			"WSYNC_DEPOT_PATH=" + cfg.Workspace.DepotPath,
		}
		runner = exec
	}

	a.workspace, err = wsync.NewWorkspace(id, wsync.WorkspaceDeps{
		VCS:      a.vcs,
		Runner:   runner,
		Archives: archive.NewInstaller(a.store, a.installDir(), a.decrypter(), a.log),
		Resolver: a.catalog,
		States:   a.db,
		History:  a.db,
		Files:    a.files,
		Output:   a.output,
		Logger:   a.log,
		Clock:    o.clock,
		IDs:      o.ids,
		OnUpdateComplete: func(c wsync.UpdateCompletion) {
			a.logger.Info("update finished", "result", c.Result.String(), "message", c.Message)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}

	a.logger.Info("operation started", "operation", a.op.Name, "parameters", a.op.Parameters, "workspace", id.String())
	return a, nil
}

func databaseName(cfg *config.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return "wsync"
}

func archiveTypes(cfg *config.Config) []string {
	var types []string
	for _, req := range cfg.Workspace.Archives {
		types = append(types, req.Type)
	}
	return types
}

// installDir is where archives are unpacked.
func (a *WsyncApp) installDir() string {
	dir := a.cfg.Archive.InstallDir
	if dir == "" {
		return a.cfg.Workspace.LocalRoot
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(a.cfg.Workspace.LocalRoot, dir)
}

// decrypter unlocks the archive private key with the passphrase from the
// environment. Without it encrypted archives fail to install.
func (a *WsyncApp) decrypter() encryption.Decrypter {
	if a.keys == nil || !a.keys.IsConfigured() {
		return nil
	}
	d, err := a.keys.Unlock(os.Getenv(PassphraseEnv))
	if err != nil {
		a.logger.Warn("archive key locked, encrypted archives cannot be installed", "error", err)
		return nil
	}
	return d
}

// Config returns the configuration the app was built from.
func (a *WsyncApp) Config() *config.Config { return a.cfg }

// Operation returns the running CLI operation.
func (a *WsyncApp) Operation() *Operation { return a.op }

// Workspace returns the update engine.
func (a *WsyncApp) Workspace() *wsync.Workspace { return a.workspace }

// Catalog returns the change catalog. It is empty until refreshed.
func (a *WsyncApp) Catalog() *wsync.ChangeCatalog { return a.catalog }

// SyncLogPath is the file holding the raw output of the last run.
func (a *WsyncApp) SyncLogPath() string { return a.syncLog.Path() }

// Close finalizes the operation and closes all resources.
func (a *WsyncApp) Close() error {
	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock.Now()).Round(time.Millisecond).String())
	return a.closeResources()
}

func (a *WsyncApp) closeResources() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if a.syncLog != nil {
		a.syncLog.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// runOutput receives the raw output of every run. It always writes to the
// sync log and, while a view is attached, to the view as well.
type runOutput struct {
	mu    sync.Mutex
	log   *syncLog
	extra io.Writer
}

func (o *runOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	extra := o.extra
	o.mu.Unlock()

	if _, err := o.log.Write(p); err != nil {
		return 0, err
	}
	if extra != nil {
		_, _ = extra.Write(p)
	}
	return len(p), nil
}

func (o *runOutput) attach(w io.Writer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extra = w
}

// describeOptions renders options for operation parameters.
func describeOptions(change int, opts wsync.WorkspaceUpdateOptions) string {
	var b strings.Builder
	if change > 0 {
		fmt.Fprintf(&b, "change=%d ", change)
	}
	fmt.Fprintf(&b, "options=%s", opts)
	return b.String()
}
