package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 1, 18, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	stateDir := filepath.Join(t.TempDir(), ".crewstate")
	store := New(stateDir, fixedClock{testNow})
	require.NoError(t, store.Initialize())
	return store, stateDir
}

func TestStore_Initialize(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), ".crewstate")
	store := New(stateDir, fixedClock{testNow})
	assert.False(t, store.IsInitialized())

	_, err := store.Get("p", "t")
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	require.NoError(t, store.Initialize())
	assert.True(t, store.IsInitialized())
	require.NoError(t, store.Initialize(), "initialize is idempotent")

	content, err := os.ReadFile(filepath.Join(stateDir, "meta.json"))
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(content, &meta))
	assert.InDelta(t, 1, meta["schema"], 0)
}

func TestStore_Initialize_RejectsSchemaMismatch(t *testing.T) {
	store, stateDir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "meta.json"), []byte(`{"schema": 99, "created": "x"}`), 0o644))
	assert.ErrorContains(t, store.Initialize(), "schema mismatch")
}

func TestStore_Task_SaveGetList(t *testing.T) {
	store, _ := newTestStore(t)

	missing, err := store.Get("proj", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	later := &domain.Task{ProjectID: "proj", ID: "b", Title: "B", Status: domain.StatusPending, Priority: domain.PriorityLow, CreatedAt: testNow.Add(time.Minute)}
	earlier := &domain.Task{ProjectID: "proj", ID: "a", Title: "A", Status: domain.StatusCompleted, Priority: domain.PriorityHigh, CreatedAt: testNow,
		Result: map[string]any{"pr": "https://example.test/pr/1"}, DependsOn: []string{"x"}}
	other := &domain.Task{ProjectID: "other", ID: "a", Title: "Other", Status: domain.StatusPending, CreatedAt: testNow}
	require.NoError(t, store.Save(later))
	require.NoError(t, store.Save(earlier))
	require.NoError(t, store.Save(other))

	got, err := store.Get("proj", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, []string{"x"}, got.DependsOn)
	assert.Equal(t, "https://example.test/pr/1", got.Result["pr"])

	all, err := store.List("proj", domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)

	pending, err := store.List("proj", domain.TaskFilter{Statuses: []domain.Status{domain.StatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "proj"}, projects)
}

func TestStore_Task_SaveOverwritesAtomically(t *testing.T) {
	store, stateDir := newTestStore(t)
	task := &domain.Task{ProjectID: "proj", ID: "a", Title: "A", Status: domain.StatusPending, CreatedAt: testNow}
	require.NoError(t, store.Save(task))

	task.Status = domain.StatusRunning
	require.NoError(t, store.Save(task))

	got, err := store.Get("proj", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, got.Status)

	entries, err := os.ReadDir(filepath.Join(stateDir, "projects", "proj", "tasks"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_Task_ConcurrentSaves(t *testing.T) {
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task := &domain.Task{ProjectID: "proj", ID: "t", Title: "T", Status: domain.StatusPending, AttemptCount: i, CreatedAt: testNow}
			assert.NoError(t, store.Save(task))
		}()
	}
	wg.Wait()

	got, err := store.Get("proj", "t")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "T", got.Title)
}

func TestStore_Sessions(t *testing.T) {
	store, _ := newTestStore(t)
	sessions := store.Sessions()

	s1 := domain.NewSession("proj-1", "proj", "first", "", 2, nil, testNow)
	s2 := domain.NewSession("proj-2", "proj", "second", "", 2, nil, testNow)
	s2.LastActive = testNow.Add(time.Hour)
	s3 := domain.NewSession("other-1", "other", "x", "", 1, nil, testNow)
	for _, s := range []*domain.Session{s1, s2, s3} {
		require.NoError(t, sessions.Save(s))
	}

	got, err := sessions.Get("proj-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, []string{}, got.CompletedTaskIDs)

	missing, err := sessions.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := sessions.ListByProject("proj")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "proj-2", list[0].ID)
	assert.Equal(t, "proj-1", list[1].ID)
}

func TestStore_Checkpoints_Immutable(t *testing.T) {
	store, _ := newTestStore(t)
	cps := store.Checkpoints()

	s := domain.NewSession("proj-1", "proj", "first", "", 2, nil, testNow)
	require.NoError(t, s.RecordProgress(domain.ProgressUpdate{CompletedID: "a"}, testNow))
	cp1 := domain.NewCheckpoint(s.NextCheckpointID(), s, map[string]any{"k": "v"}, testNow)
	cp2 := domain.NewCheckpoint(s.NextCheckpointID(), s, nil, testNow.Add(time.Second))

	require.NoError(t, cps.Create(cp2))
	require.NoError(t, cps.Create(cp1))

	dup := *cp1
	dup.Context = map[string]any{"k": "changed"}
	assert.ErrorIs(t, cps.Create(&dup), domain.ErrCheckpointExists)

	got, err := cps.Get(cp1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v", got.Context["k"])
	assert.Equal(t, []string{"a"}, got.Progress.CompletedTaskIDs)

	list, err := cps.ListBySession("proj-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, cp1.ID, list[0].ID)
	assert.Equal(t, cp2.ID, list[1].ID)

	none, err := cps.ListBySession("proj")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Task_ReservedCharactersKeepIDsDistinct(t *testing.T) {
	store, _ := newTestStore(t)

	colon := &domain.Task{ProjectID: "p", ID: "a:b", Title: "colon", Status: domain.StatusPending, CreatedAt: testNow}
	require.NoError(t, store.Save(colon))

	got, err := store.Get("p", "a_b")
	require.NoError(t, err)
	assert.Nil(t, got, "a_b must not resolve to the a:b record")

	underscore := &domain.Task{ProjectID: "p", ID: "a_b", Title: "underscore", Status: domain.StatusRunning, CreatedAt: testNow}
	require.NoError(t, store.Save(underscore))

	got, err = store.Get("p", "a:b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "colon", got.Title)
	assert.Equal(t, domain.StatusPending, got.Status)

	team := &domain.Task{ProjectID: "team:1", ID: "x", Title: "X", Status: domain.StatusPending, CreatedAt: testNow}
	require.NoError(t, store.Save(team))

	other, err := store.List("team_1", domain.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, other)

	own, err := store.List("team:1", domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "x", own[0].ID)

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "team:1"}, projects)
}

func TestStore_Task_RejectsRecordUnderForeignKey(t *testing.T) {
	store, stateDir := newTestStore(t)
	require.NoError(t, store.Save(&domain.Task{ProjectID: "p", ID: "a", Title: "A", CreatedAt: testNow}))

	src := filepath.Join(stateDir, "projects", "p", "tasks", "a.json")
	content, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "projects", "p", "tasks", "b.json"), content, 0o644))

	_, err = store.Get("p", "b")
	assert.ErrorIs(t, err, errCorruptRecord)

	_, err = store.List("q", domain.TaskFilter{})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "projects", "q", "tasks"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "projects", "q", "tasks", "a.json"), content, 0o644))
	_, err = store.List("q", domain.TaskFilter{})
	assert.ErrorIs(t, err, errCorruptRecord)
}

func TestStore_Sessions_StoredPerProject(t *testing.T) {
	store, stateDir := newTestStore(t)
	sessions := store.Sessions()

	s := domain.NewSession("team:1-s", "team:1", "first", "", 1, nil, testNow)
	require.NoError(t, sessions.Save(s))

	_, err := os.Stat(filepath.Join(stateDir, "projects", domain.SafeName("team:1"), "sessions", domain.SafeName(s.ID)+".json"))
	require.NoError(t, err)

	got, err := sessions.Get(s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "team:1", got.ProjectID)

	none, err := sessions.ListByProject("team_1")
	require.NoError(t, err)
	assert.Empty(t, none)

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Empty(t, projects, "a project with sessions only has no tasks")
}
