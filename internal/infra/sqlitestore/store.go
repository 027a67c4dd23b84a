// Package sqlitestore provides a SQLite implementation of the task, session
// and checkpoint repositories.
//
// Every record write is a single upsert or insert statement, so it lands
// whole or not at all. Read-modify-write sequences are not wrapped in
// transactions here: callers serialize them with the per-project lock.
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/runoshun/crewstate/internal/domain"

	_ "modernc.org/sqlite" // SQLite driver
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS store_meta (
	schema_version INTEGER NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	project_id TEXT NOT NULL,
	task_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (project_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(project_id, status);
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	status      TEXT NOT NULL,
	last_active TEXT NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, last_active);
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	data          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at);
`

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists records as JSON documents in SQLite, with the columns
// needed for filtering and ordering kept alongside.
type Store struct {
	db    *sql.DB
	clock domain.Clock
	path  string
}

// Ensure Store implements the repository ports.
var (
	_ domain.TaskRepository       = (*Store)(nil)
	_ domain.SessionRepository    = (*SessionStore)(nil)
	_ domain.CheckpointRepository = (*CheckpointStore)(nil)
	_ domain.StoreInitializer     = (*Store)(nil)
)

// Open opens (or creates) the database at dbPath. The caller is responsible
// for calling Close.
func Open(dbPath string, clock domain.Clock) (*Store, error) {
	if clock == nil {
		clock = domain.RealClock{}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	return &Store{db: db, clock: clock, path: dbPath}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

// Checkpoints returns the checkpoint repository view of the store.
func (s *Store) Checkpoints() *CheckpointStore { return &CheckpointStore{s: s} }

// Initialize creates the schema if it doesn't exist.
// Schema creation and the store_meta row land in one transaction.
func (s *Store) Initialize() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin initialize: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO store_meta (schema_version, created_at)
		SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM store_meta)`,
		schemaVersion, formatTime(s.clock.Now()))
	if err != nil {
		return fmt.Errorf("write store meta: %w", err)
	}
	var version int
	if err := tx.QueryRow(`SELECT schema_version FROM store_meta LIMIT 1`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("store schema mismatch: %d", version)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit initialize: %w", err)
	}
	return nil
}

// IsInitialized checks if the schema has been created.
func (s *Store) IsInitialized() bool {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='store_meta'`).Scan(&name)
	return err == nil
}

func (s *Store) ensureInitialized() error {
	if !s.IsInitialized() {
		return domain.ErrNotInitialized
	}
	return nil
}

// === Tasks ===

// Get retrieves a task. Returns nil if not found.
func (s *Store) Get(projectID, taskID string) (*domain.Task, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	row := s.db.QueryRow(`SELECT data FROM tasks WHERE project_id = ? AND task_id = ?`, projectID, taskID)
	return scanOne[domain.Task](row)
}

// List retrieves a project's tasks matching the filter, ordered by creation time then id.
func (s *Store) List(projectID string, filter domain.TaskFilter) ([]*domain.Task, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	query := `SELECT data FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at ASC, task_id ASC`

	tasks, err := scanAll[domain.Task](s.db.Query(query, args...))
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Save creates or updates a task.
func (s *Store) Save(task *domain.Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (project_id, task_id, status, created_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, task_id) DO UPDATE SET
			status = excluded.status, data = excluded.data`,
		task.ProjectID, task.ID, string(task.Status), formatTime(task.CreatedAt), string(data))
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// ListProjects returns every project id that has tasks, sorted.
func (s *Store) ListProjects() ([]string, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT DISTINCT project_id FROM tasks ORDER BY project_id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// === Sessions ===

// SessionStore is the domain.SessionRepository view of a Store.
type SessionStore struct {
	s *Store
}

// Get retrieves a session by ID. Returns nil if not found.
func (ss *SessionStore) Get(sessionID string) (*domain.Session, error) {
	if err := ss.s.ensureInitialized(); err != nil {
		return nil, err
	}
	row := ss.s.db.QueryRow(`SELECT data FROM sessions WHERE session_id = ?`, sessionID)
	return scanOne[domain.Session](row)
}

// ListByProject returns a project's sessions, most recently active first.
func (ss *SessionStore) ListByProject(projectID string) ([]*domain.Session, error) {
	if err := ss.s.ensureInitialized(); err != nil {
		return nil, err
	}
	return scanAll[domain.Session](ss.s.db.Query(
		`SELECT data FROM sessions WHERE project_id = ? ORDER BY last_active DESC, session_id ASC`, projectID))
}

// Save creates or updates a session.
func (ss *SessionStore) Save(session *domain.Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	if err := ss.s.ensureInitialized(); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = ss.s.db.Exec(`
		INSERT INTO sessions (session_id, project_id, status, last_active, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status, last_active = excluded.last_active, data = excluded.data`,
		session.ID, session.ProjectID, string(session.Status), formatTime(session.LastActive), string(data))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// === Checkpoints ===

// CheckpointStore is the domain.CheckpointRepository view of a Store.
type CheckpointStore struct {
	s *Store
}

// Get retrieves a checkpoint by ID. Returns nil if not found.
func (cs *CheckpointStore) Get(checkpointID string) (*domain.Checkpoint, error) {
	if err := cs.s.ensureInitialized(); err != nil {
		return nil, err
	}
	row := cs.s.db.QueryRow(`SELECT data FROM checkpoints WHERE checkpoint_id = ?`, checkpointID)
	return scanOne[domain.Checkpoint](row)
}

// Create stores a new checkpoint. Existing checkpoints are never overwritten.
func (cs *CheckpointStore) Create(cp *domain.Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	if err := cs.s.ensureInitialized(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	res, err := cs.s.db.Exec(`
		INSERT INTO checkpoints (checkpoint_id, session_id, created_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(checkpoint_id) DO NOTHING`,
		cp.ID, cp.SessionID, formatTime(cp.CreatedAt), string(data))
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if n == 0 {
		return domain.ErrCheckpointExists
	}
	return nil
}

// ListBySession returns a session's checkpoints in creation order.
func (cs *CheckpointStore) ListBySession(sessionID string) ([]*domain.Checkpoint, error) {
	if err := cs.s.ensureInitialized(); err != nil {
		return nil, err
	}
	return scanAll[domain.Checkpoint](cs.s.db.Query(
		`SELECT data FROM checkpoints WHERE session_id = ? ORDER BY created_at ASC, checkpoint_id ASC`, sessionID))
}

// === Helpers ===

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// scanOne decodes the data column of row. Returns nil if there is no row.
func scanOne[T any](row *sql.Row) (*T, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	v := new(T)
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return v, nil
}

// scanAll decodes the data column of every row.
func scanAll[T any](rows *sql.Rows, err error) ([]*T, error) {
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
