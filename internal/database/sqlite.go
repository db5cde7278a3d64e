package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wsync-go/internal/database/migrations"
	"wsync-go/internal/wsync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase stores workspace sync state, run history and change verdicts.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteDatabase opens path and applies pending migrations.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path, now: time.Now}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db, now: time.Now}
}

// OpenConnection opens a SQLite connection with the PRAGMAs the schema relies on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every pooled connection to ":memory:" would be a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// Sync state

func (s *SQLiteDatabase) LoadSyncState(id wsync.WorkspaceID) (*wsync.PersistedSyncState, error) {
	ctx := context.Background()
	key := id.String()

	var (
		st     wsync.PersistedSyncState
		result string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_change_number, last_sync_result, last_sync_result_message,
		       last_sync_time, last_sync_duration_seconds, last_built_change_number,
		       current_change_number
		FROM workspace_sync_state WHERE workspace_id = ?`, key).Scan(
		&st.LastSyncChangeNumber, &result, &st.LastSyncResultMessage,
		&st.LastSyncTime, &st.LastSyncDurationSeconds, &st.LastBuiltChangeNumber,
		&st.CurrentChangeNumber,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("loading sync state: %w", err)
	}
	// an unrecognised result from a newer binary reads as Unknown
	if parsed, err := wsync.ParseWorkspaceUpdateResult(result); err == nil {
		st.LastSyncResult = parsed
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT change_number FROM workspace_additional_changes WHERE workspace_id = ? ORDER BY change_number", key)
	if err != nil {
		return nil, fmt.Errorf("loading additional changes: %w", err)
	}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning additional change: %w", err)
		}
		st.AdditionalChangeNumbers = append(st.AdditionalChangeNumbers, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading additional changes: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT archive_type FROM workspace_archive_types WHERE workspace_id = ? ORDER BY archive_type", key)
	if err != nil {
		return nil, fmt.Errorf("loading archive types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning archive type: %w", err)
		}
		st.ExpandedArchiveTypes = append(st.ExpandedArchiveTypes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading archive types: %w", err)
	}
	return &st, nil
}

func (s *SQLiteDatabase) SaveSyncState(id wsync.WorkspaceID, st *wsync.PersistedSyncState) error {
	ctx := context.Background()
	key := id.String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_sync_state (
			workspace_id, last_sync_change_number, last_sync_result, last_sync_result_message,
			last_sync_time, last_sync_duration_seconds, last_built_change_number,
			current_change_number, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id) DO UPDATE SET
			last_sync_change_number = excluded.last_sync_change_number,
			last_sync_result = excluded.last_sync_result,
			last_sync_result_message = excluded.last_sync_result_message,
			last_sync_time = excluded.last_sync_time,
			last_sync_duration_seconds = excluded.last_sync_duration_seconds,
			last_built_change_number = excluded.last_built_change_number,
			current_change_number = excluded.current_change_number,
			updated_at = excluded.updated_at`,
		key, st.LastSyncChangeNumber, st.LastSyncResult.String(), st.LastSyncResultMessage,
		st.LastSyncTime, st.LastSyncDurationSeconds, st.LastBuiltChangeNumber,
		st.CurrentChangeNumber, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM workspace_additional_changes WHERE workspace_id = ?", key); err != nil {
		return fmt.Errorf("clearing additional changes: %w", err)
	}
	for _, n := range st.AdditionalChangeNumbers {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO workspace_additional_changes (workspace_id, change_number) VALUES (?, ?)", key, n); err != nil {
			return fmt.Errorf("saving additional change %d: %w", n, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM workspace_archive_types WHERE workspace_id = ?", key); err != nil {
		return fmt.Errorf("clearing archive types: %w", err)
	}
	for _, t := range st.ExpandedArchiveTypes {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO workspace_archive_types (workspace_id, archive_type) VALUES (?, ?)", key, t); err != nil {
			return fmt.Errorf("saving archive type %s: %w", t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Run history

func (s *SQLiteDatabase) RecordUpdateRun(run *wsync.UpdateRun) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO update_runs (id, workspace_id, change_number, options, result, message, scheduled, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkspaceID, run.ChangeNumber, run.Options.String(), run.Result.String(),
		run.Message, run.Scheduled, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording update run: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListUpdateRuns(workspaceID string, limit int) ([]*wsync.UpdateRun, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT id, workspace_id, change_number, options, result, message, scheduled, started_at, finished_at
		FROM update_runs WHERE workspace_id = ?
		ORDER BY finished_at DESC, rowid DESC LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing update runs: %w", err)
	}
	defer rows.Close()

	var runs []*wsync.UpdateRun
	for rows.Next() {
		var (
			run             wsync.UpdateRun
			options, result string
		)
		if err := rows.Scan(&run.ID, &run.WorkspaceID, &run.ChangeNumber, &options, &result,
			&run.Message, &run.Scheduled, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning update run: %w", err)
		}
		run.Options, _ = wsync.ParseOptions(options)
		run.Result, _ = wsync.ParseWorkspaceUpdateResult(result)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing update runs: %w", err)
	}
	return runs, nil
}

// Verdicts

// SetVerdict records or replaces the verdict of a change. VerdictNone deletes it.
func (s *SQLiteDatabase) SetVerdict(change int, verdict wsync.Verdict) error {
	ctx := context.Background()
	if verdict == wsync.VerdictNone {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM change_verdicts WHERE change_number = ?", change); err != nil {
			return fmt.Errorf("clearing verdict: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_verdicts (change_number, verdict, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(change_number) DO UPDATE SET verdict = excluded.verdict, updated_at = excluded.updated_at`,
		change, verdict.String(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("setting verdict: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) GetVerdicts(ctx context.Context, changes []int) (map[int]wsync.Verdict, error) {
	verdicts := make(map[int]wsync.Verdict)
	if len(changes) == 0 {
		return verdicts, nil
	}
	wanted := make(map[int]bool, len(changes))
	for _, n := range changes {
		wanted[n] = true
	}

	rows, err := s.db.QueryContext(ctx, "SELECT change_number, verdict FROM change_verdicts")
	if err != nil {
		return nil, fmt.Errorf("querying verdicts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			n int
			v string
		)
		if err := rows.Scan(&n, &v); err != nil {
			return nil, fmt.Errorf("scanning verdict: %w", err)
		}
		if !wanted[n] {
			continue
		}
		parsed, err := wsync.ParseVerdict(v)
		if err != nil {
			continue
		}
		verdicts[n] = parsed
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying verdicts: %w", err)
	}
	return verdicts, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time checks
var (
	_ wsync.StateStore    = (*SQLiteDatabase)(nil)
	_ wsync.RunHistory    = (*SQLiteDatabase)(nil)
	_ wsync.VerdictSource = (*SQLiteDatabase)(nil)
)
