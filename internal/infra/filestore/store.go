// Package filestore provides a file-based implementation of the task,
// session and checkpoint repositories.
//
// Layout under the state directory:
//
//	meta.json
//	projects/<project>/tasks/<task>.json
//	projects/<project>/sessions/<session>.json
//	checkpoints/<checkpoint>.json
//
// Path elements are ids encoded with domain.SafeName. A record whose stored
// id does not match the path it was read from is reported as corrupt.
//
// Every record is written to a temp file and renamed into place, so readers
// never see partial writes. Checkpoints are linked into place and never rewritten.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

const storeMetaSchema = 1

var errCorruptRecord = errors.New("corrupt record")

// Store persists tasks, sessions and checkpoints as JSON files.
type Store struct {
	clock    domain.Clock
	rootDir  string
	lockPath string
}

// New creates a new Store rooted at the state directory.
func New(stateDir string, clock domain.Clock) *Store {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Store{
		rootDir:  stateDir,
		lockPath: filepath.Join(stateDir, ".store.lock"),
		clock:    clock,
	}
}

// Ensure Store implements the repository ports.
var (
	_ domain.TaskRepository       = (*Store)(nil)
	_ domain.SessionRepository    = (*SessionStore)(nil)
	_ domain.CheckpointRepository = (*CheckpointStore)(nil)
	_ domain.StoreInitializer     = (*Store)(nil)
)

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

// Checkpoints returns the checkpoint repository view of the store.
func (s *Store) Checkpoints() *CheckpointStore { return &CheckpointStore{s: s} }

// === Tasks ===

// Get retrieves a task. Returns nil if not found.
func (s *Store) Get(projectID, taskID string) (*domain.Task, error) {
	var task *domain.Task
	err := s.withLock(func() error {
		if err := s.ensureInitialized(); err != nil {
			return err
		}
		if err := readRecord(s.taskPath(projectID, taskID), &task); err != nil {
			return err
		}
		if task != nil && (task.ProjectID != projectID || task.ID != taskID) {
			return mismatch("task", projectID+"/"+taskID, task.ProjectID+"/"+task.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// List retrieves a project's tasks matching the filter, ordered by creation time then id.
func (s *Store) List(projectID string, filter domain.TaskFilter) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := s.withLock(func() error {
		if err := s.ensureInitialized(); err != nil {
			return err
		}
		paths, err := listJSON(s.tasksDir(projectID))
		if err != nil {
			return err
		}
		for _, p := range paths {
			var task *domain.Task
			if err := readRecord(p, &task); err != nil {
				return err
			}
			if task == nil {
				continue
			}
			if task.ProjectID != projectID {
				return mismatch("task", projectID+"/"+task.ID, task.ProjectID+"/"+task.ID)
			}
			if filter.Matches(task) {
				tasks = append(tasks, task)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(tasks, func(a, b *domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

// Save creates or updates a task.
func (s *Store) Save(task *domain.Task) error {
	if task == nil {
		return errors.New("task is nil")
	}
	return s.withLockWrite(func() error {
		if err := s.ensureInitialized(); err != nil {
			return err
		}
		if err := os.MkdirAll(s.tasksDir(task.ProjectID), 0o750); err != nil {
			return fmt.Errorf("create tasks dir: %w", err)
		}
		return writeRecord(s.taskPath(task.ProjectID, task.ID), task)
	})
}

// ListProjects returns every project id that has tasks, sorted.
func (s *Store) ListProjects() ([]string, error) {
	var projects []string
	err := s.withLock(func() error {
		if err := s.ensureInitialized(); err != nil {
			return err
		}
		entries, err := os.ReadDir(filepath.Join(s.rootDir, "projects"))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read projects dir: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(s.rootDir, "projects", e.Name(), "tasks")); err != nil {
				continue
			}
			projectID, err := domain.ParseSafeName(e.Name())
			if err != nil {
				return err
			}
			projects = append(projects, projectID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(projects)
	return projects, nil
}

// === Sessions ===

// SessionStore is the domain.SessionRepository view of a Store.
type SessionStore struct {
	s *Store
}

// Get retrieves a session by ID. Returns nil if not found.
func (ss *SessionStore) Get(sessionID string) (*domain.Session, error) {
	var session *domain.Session
	err := ss.s.withLock(func() error {
		if err := ss.s.ensureInitialized(); err != nil {
			return err
		}
		path, err := ss.s.findSession(sessionID)
		if err != nil || path == "" {
			return err
		}
		if err := readRecord(path, &session); err != nil {
			return err
		}
		if session != nil && session.ID != sessionID {
			return mismatch("session", sessionID, session.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListByProject returns a project's sessions, most recently active first.
func (ss *SessionStore) ListByProject(projectID string) ([]*domain.Session, error) {
	var sessions []*domain.Session
	err := ss.s.withLock(func() error {
		if err := ss.s.ensureInitialized(); err != nil {
			return err
		}
		paths, err := listJSON(ss.s.sessionsDir(projectID))
		if err != nil {
			return err
		}
		for _, p := range paths {
			var session *domain.Session
			if err := readRecord(p, &session); err != nil {
				return err
			}
			if session == nil {
				continue
			}
			if session.ProjectID != projectID {
				return mismatch("session", projectID+"/"+session.ID, session.ProjectID+"/"+session.ID)
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sessions, func(a, b *domain.Session) int {
		if c := b.LastActive.Compare(a.LastActive); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sessions, nil
}

// Save creates or updates a session.
func (ss *SessionStore) Save(session *domain.Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	return ss.s.withLockWrite(func() error {
		if err := ss.s.ensureInitialized(); err != nil {
			return err
		}
		if err := os.MkdirAll(ss.s.sessionsDir(session.ProjectID), 0o750); err != nil {
			return fmt.Errorf("create sessions dir: %w", err)
		}
		return writeRecord(ss.s.sessionPath(session.ProjectID, session.ID), session)
	})
}

// === Checkpoints ===

// CheckpointStore is the domain.CheckpointRepository view of a Store.
type CheckpointStore struct {
	s *Store
}

// Get retrieves a checkpoint by ID. Returns nil if not found.
func (cs *CheckpointStore) Get(checkpointID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := cs.s.withLock(func() error {
		if err := cs.s.ensureInitialized(); err != nil {
			return err
		}
		if err := readRecord(cs.s.checkpointPath(checkpointID), &cp); err != nil {
			return err
		}
		if cp != nil && cp.ID != checkpointID {
			return mismatch("checkpoint", checkpointID, cp.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Create stores a new checkpoint. Existing checkpoints are never overwritten.
func (cs *CheckpointStore) Create(cp *domain.Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	return cs.s.withLockWrite(func() error {
		if err := cs.s.ensureInitialized(); err != nil {
			return err
		}
		content, err := json.MarshalIndent(cp, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		return writeExclusive(cs.s.checkpointPath(cp.ID), content, 0o644)
	})
}

// ListBySession returns a session's checkpoints in creation order.
func (cs *CheckpointStore) ListBySession(sessionID string) ([]*domain.Checkpoint, error) {
	var cps []*domain.Checkpoint
	err := cs.s.withLock(func() error {
		if err := cs.s.ensureInitialized(); err != nil {
			return err
		}
		paths, err := listJSON(filepath.Join(cs.s.rootDir, "checkpoints"))
		if err != nil {
			return err
		}
		prefix := domain.SafeName(sessionID) + "-ckpt-"
		for _, p := range paths {
			if !strings.HasPrefix(filepath.Base(p), prefix) {
				continue
			}
			var cp *domain.Checkpoint
			if err := readRecord(p, &cp); err != nil {
				return err
			}
			if cp != nil && cp.SessionID == sessionID {
				cps = append(cps, cp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(cps, func(a, b *domain.Checkpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return cps, nil
}

// === Initialization ===

type storeMetaPayload struct {
	Schema  *int    `json:"schema"`
	Created *string `json:"created"`
}

// IsInitialized checks if the store has been initialized.
func (s *Store) IsInitialized() bool {
	_, err := os.Stat(s.metaPath())
	return err == nil
}

// Initialize creates the store layout if it doesn't exist.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.rootDir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	lock, err := s.acquireLock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)

	for _, dir := range []string{"projects", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(s.rootDir, dir), 0o750); err != nil {
			return fmt.Errorf("create %s dir: %w", dir, err)
		}
	}

	if err := s.readMeta(); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotInitialized) {
		return err
	}

	schema := storeMetaSchema
	created := s.clock.Now().UTC().Format(time.RFC3339)
	content, err := json.MarshalIndent(storeMetaPayload{Schema: &schema, Created: &created}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store meta: %w", err)
	}
	return writeAtomic(s.metaPath(), content, 0o644)
}

func (s *Store) readMeta() error {
	content, err := os.ReadFile(s.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNotInitialized
		}
		return fmt.Errorf("read store meta: %w", err)
	}
	var payload storeMetaPayload
	if err := decodeJSONStrict(content, &payload); err != nil {
		return fmt.Errorf("parse store meta: %w", err)
	}
	if payload.Schema == nil {
		return errors.New("store meta missing schema")
	}
	if *payload.Schema != storeMetaSchema {
		return fmt.Errorf("store meta schema mismatch: %d", *payload.Schema)
	}
	return nil
}

func (s *Store) ensureInitialized() error {
	if !s.IsInitialized() {
		return domain.ErrNotInitialized
	}
	return nil
}

// === Paths ===

func (s *Store) metaPath() string {
	return filepath.Join(s.rootDir, "meta.json")
}

func (s *Store) tasksDir(projectID string) string {
	return filepath.Join(s.rootDir, "projects", domain.SafeName(projectID), "tasks")
}

func (s *Store) taskPath(projectID, taskID string) string {
	return filepath.Join(s.tasksDir(projectID), domain.SafeName(taskID)+".json")
}

func (s *Store) sessionsDir(projectID string) string {
	return filepath.Join(s.rootDir, "projects", domain.SafeName(projectID), "sessions")
}

func (s *Store) sessionPath(projectID, sessionID string) string {
	return filepath.Join(s.sessionsDir(projectID), domain.SafeName(sessionID)+".json")
}

// findSession returns the path of a session record, or "" if no project holds it.
// Only one stat per project is needed; session records are not decoded.
func (s *Store) findSession(sessionID string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(s.rootDir, "projects"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read projects dir: %w", err)
	}
	name := domain.SafeName(sessionID) + ".json"
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.rootDir, "projects", e.Name(), "sessions", name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func (s *Store) checkpointPath(checkpointID string) string {
	return filepath.Join(s.rootDir, "checkpoints", domain.SafeName(checkpointID)+".json")
}

// mismatch reports a record stored under another record's key.
func mismatch(kind, key, stored string) error {
	return fmt.Errorf("%s record %s holds %s: %w", kind, key, stored, errCorruptRecord)
}

// === Locking ===

func (s *Store) withLock(fn func() error) error {
	lock, err := s.acquireLock(syscall.LOCK_SH)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)
	return fn()
}

func (s *Store) withLockWrite(fn func() error) error {
	lock, err := s.acquireLock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)
	return fn()
}

func (s *Store) acquireLock(lockType int) (*os.File, error) {
	if _, err := os.Stat(s.rootDir); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotInitialized
		}
		return nil, fmt.Errorf("stat state dir: %w", err)
	}

	lock, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(lock.Fd()), lockType); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return lock, nil
}

func (s *Store) releaseLock(lock *os.File) {
	_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	_ = lock.Close()
}

// === Encoding ===

// readRecord decodes the JSON file at path into *out. A missing file leaves *out nil.
func readRecord[T any](path string, out **T) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	v := new(T)
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	*out = v
	return nil
}

func writeRecord(path string, v any) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, content, 0o644)
}

// listJSON returns the .json files in dir, sorted. A missing dir yields no files.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", filepath.Base(dir), err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}

func decodeJSONStrict(content []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing content")
	}
	return nil
}

func writeTemp(path string, content []byte, perm os.FileMode) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	return tmpPath, nil
}

func writeAtomic(path string, content []byte, perm os.FileMode) error {
	tmpPath, err := writeTemp(path, content, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// writeExclusive publishes content at path only if path does not exist yet.
func writeExclusive(path string, content []byte, perm os.FileMode) error {
	tmpPath, err := writeTemp(path, content, perm)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpPath) }()
	if err := os.Link(tmpPath, path); err != nil {
		if os.IsExist(err) {
			return domain.ErrCheckpointExists
		}
		return fmt.Errorf("link checkpoint: %w", err)
	}
	return nil
}
