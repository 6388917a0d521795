package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the sqlite-backed durable store. Snapshots are written
// before index entries inside one transaction, so an index row always points
// at an existing snapshot. Workspace archives live on the filesystem next to
// the database, keyed by (context id, task id).
type SQLiteStore struct {
	db         *sql.DB
	archiveDir string
	logger     *slog.Logger
}

// Open opens (and migrates) the sqlite store at path, with workspace
// archives stored under archiveDir.
func Open(path, archiveDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:         db,
		archiveDir: archiveDir,
		logger:     slog.Default().With("component", "store"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save checkpoints a task. The snapshot, index entry, and history appends
// commit atomically; the workspace archive is a separate filesystem step
// whose failure is returned without invalidating the committed rows.
func (s *SQLiteStore) Save(ctx context.Context, snap *TaskSnapshot) error {
	if snap.ContextID == "" {
		return ErrNoContext
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	settingsJSON, err := json.Marshal(snap.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	historyJSON, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	// Snapshot first, index second: the index must never reference a
	// snapshot that does not exist.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_snapshots (context_id, task_id, state, settings, history, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (context_id, task_id) DO UPDATE SET
			state = excluded.state,
			settings = excluded.settings,
			history = excluded.history,
			saved_at = excluded.saved_at`,
		snap.ContextID, snap.TaskID, snap.State,
		string(settingsJSON), string(historyJSON),
		snap.SavedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_index (task_id, context_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			context_id = excluded.context_id,
			updated_at = excluded.updated_at`,
		snap.TaskID, snap.ContextID, snap.SavedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	for _, msg := range snap.History {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message %s: %w", msg.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO context_messages (context_id, message_id, payload)
			VALUES (?, ?, ?)`,
			snap.ContextID, msg.ID, string(payload))
		if err != nil {
			return fmt.Errorf("append message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	if err := s.archiveWorkspace(snap); err != nil {
		return fmt.Errorf("archive workspace: %w", err)
	}
	return nil
}

func (s *SQLiteStore) archiveWorkspace(snap *TaskSnapshot) error {
	ws := snap.Settings.WorkspacePath
	if ws == "" {
		return nil
	}
	info, err := os.Stat(ws)
	if err != nil || !info.IsDir() {
		// Absent workspace is not an error at save time.
		return nil
	}

	dest := s.archivePath(snap.ContextID, snap.TaskID)
	wrote, err := CreateArchive(ws, dest)
	if err != nil {
		return err
	}
	if !wrote {
		s.logger.Debug("workspace empty, archive skipped", "task_id", snap.TaskID)
	}
	return nil
}

func (s *SQLiteStore) archivePath(contextID, taskID string) string {
	return filepath.Join(s.archiveDir, contextID, taskID+".tar.gz")
}

// Load retrieves a snapshot by task id. Unknown tasks return (nil, nil). An
// index row without a snapshot returns ErrInconsistentState. A present
// workspace archive is extracted into the snapshot's workspace path; a
// missing archive is logged and treated as an empty workspace.
func (s *SQLiteStore) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	var contextID string
	err := s.db.QueryRowContext(ctx,
		`SELECT context_id FROM task_index WHERE task_id = ?`, taskID).Scan(&contextID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var (
		state        string
		settingsJSON string
		historyJSON  string
		savedAt      string
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT state, settings, history, saved_at
		FROM task_snapshots WHERE context_id = ? AND task_id = ?`,
		contextID, taskID).Scan(&state, &settingsJSON, &historyJSON, &savedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s in context %s: %w", taskID, contextID, ErrInconsistentState)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap := &TaskSnapshot{
		TaskID:    taskID,
		ContextID: contextID,
		State:     state,
	}
	if err := json.Unmarshal([]byte(settingsJSON), &snap.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &snap.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
		snap.SavedAt = ts
	}

	if err := s.restoreWorkspace(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStore) restoreWorkspace(snap *TaskSnapshot) error {
	ws := snap.Settings.WorkspacePath
	if ws == "" {
		return nil
	}

	archive := s.archivePath(snap.ContextID, snap.TaskID)
	if _, err := os.Stat(archive); err != nil {
		s.logger.Debug("no workspace archive, treating as empty",
			"task_id", snap.TaskID, "archive", archive)
		return nil
	}
	if err := ExtractArchive(archive, ws); err != nil {
		return fmt.Errorf("restore workspace: %w", err)
	}
	return nil
}

// ContextHistory returns the message log for a context, oldest first.
func (s *SQLiteStore) ContextHistory(ctx context.Context, contextID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM context_messages
		WHERE context_id = ? ORDER BY seq ASC`, contextID)
	if err != nil {
		return nil, fmt.Errorf("read context log: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			// Skip corrupted rows rather than failing the whole read.
			s.logger.Warn("skipping corrupted context message", "context_id", contextID, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// InsertIndexOnly writes a bare index row with no snapshot. Test hook for
// corruption scenarios.
func (s *SQLiteStore) InsertIndexOnly(ctx context.Context, taskID, contextID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_index (task_id, context_id, updated_at) VALUES (?, ?, ?)`,
		taskID, contextID, time.Now().Format(time.RFC3339Nano))
	return err
}
