package sqlitestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 1, 18, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"), fixedClock{testNow})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Initialize())
	return store
}

func TestStore_Initialize(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.db"), fixedClock{testNow})
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.IsInitialized())
	_, err = store.Get("p", "t")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	require.NoError(t, store.Initialize())
	require.NoError(t, store.Initialize())
	assert.True(t, store.IsInitialized())
}

func TestStore_Initialize_SharedFileKeepsOneMetaRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first, err := Open(path, fixedClock{testNow})
	require.NoError(t, err)
	defer first.Close()
	second, err := Open(path, fixedClock{testNow.Add(time.Hour)})
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Initialize())
	require.NoError(t, second.Initialize())
	require.NoError(t, first.Initialize())

	var rows int
	require.NoError(t, first.db.QueryRow(`SELECT COUNT(*) FROM store_meta`).Scan(&rows))
	assert.Equal(t, 1, rows)
	var created string
	require.NoError(t, first.db.QueryRow(`SELECT created_at FROM store_meta`).Scan(&created))
	assert.Equal(t, formatTime(testNow), created)
}

func TestStore_Initialize_SchemaMismatchRollsBack(t *testing.T) {
	store := newTestStore(t)
	_, err := store.db.Exec(`UPDATE store_meta SET schema_version = ?`, schemaVersion+1)
	require.NoError(t, err)

	err = store.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema mismatch")

	var rows int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM store_meta`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestStore_Tasks(t *testing.T) {
	store := newTestStore(t)

	missing, err := store.Get("proj", "a")
	require.NoError(t, err)
	assert.Nil(t, missing)

	a := &domain.Task{ProjectID: "proj", ID: "a", Title: "A", Status: domain.StatusPending, CreatedAt: testNow.Add(time.Minute), Tags: []string{"api"}}
	b := &domain.Task{ProjectID: "proj", ID: "b", Title: "B", Status: domain.StatusRunning, CreatedAt: testNow}
	require.NoError(t, store.Save(a))
	require.NoError(t, store.Save(b))

	a.Status = domain.StatusRunning
	a.Result = map[string]any{"n": 1.0}
	require.NoError(t, store.Save(a))

	got, err := store.Get("proj", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, 1.0, got.Result["n"])

	all, err := store.List("proj", domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)

	tagged, err := store.List("proj", domain.TaskFilter{Statuses: []domain.Status{domain.StatusRunning}, Tags: []string{"api"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "a", tagged[0].ID)

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"proj"}, projects)
}

func TestStore_Sessions(t *testing.T) {
	store := newTestStore(t)
	sessions := store.Sessions()

	old := domain.NewSession("proj-old", "proj", "old", "", 1, nil, testNow)
	recent := domain.NewSession("proj-new", "proj", "new", "", 1, nil, testNow)
	recent.LastActive = testNow.Add(time.Hour)
	require.NoError(t, sessions.Save(old))
	require.NoError(t, sessions.Save(recent))

	require.NoError(t, old.Start(testNow.Add(2*time.Hour)))
	require.NoError(t, sessions.Save(old))

	list, err := sessions.ListByProject("proj")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "proj-old", list[0].ID)
	assert.Equal(t, domain.SessionRunning, list[0].Status)

	missing, err := sessions.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_Checkpoints(t *testing.T) {
	store := newTestStore(t)
	cps := store.Checkpoints()

	s := domain.NewSession("proj-1", "proj", "n", "", 2, nil, testNow)
	cp := domain.NewCheckpoint(s.NextCheckpointID(), s, map[string]any{"k": "v"}, testNow)
	require.NoError(t, cps.Create(cp))
	assert.ErrorIs(t, cps.Create(cp), domain.ErrCheckpointExists)

	got, err := cps.Get(cp.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Context["k"])

	list, err := cps.ListBySession("proj-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
