package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTask_Execute_PriorityOrder(t *testing.T) {
	f := newFixture()
	f.addTask(t, NewTaskInput{TaskID: "low", Priority: "low"})
	f.addTask(t, NewTaskInput{TaskID: "med-1"})
	f.addTask(t, NewTaskInput{TaskID: "med-2"})
	f.addTask(t, NewTaskInput{TaskID: "crit", Priority: "critical", DependsOn: []string{"missing"}})

	out, err := NewNextTask(f.tasks).Execute(context.Background(), NextTaskInput{ProjectID: "proj"})
	require.NoError(t, err)
	require.NotNil(t, out.Task)
	assert.Equal(t, "med-1", out.Task.ID, "critical task waits on a dependency that does not exist yet")
	assert.Equal(t, 4, out.Remaining)
	assert.Empty(t, out.Stalled)

	scoped, err := NewNextTask(f.tasks).Execute(context.Background(), NextTaskInput{ProjectID: "proj", Scope: []string{"low"}})
	require.NoError(t, err)
	assert.Equal(t, "low", scoped.Task.ID)
	assert.Equal(t, 1, scoped.Remaining)
}

func TestNextTask_Execute_StalledAndRunning(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addTask(t, NewTaskInput{TaskID: "a"})
	f.addTask(t, NewTaskInput{TaskID: "b", DependsOn: []string{"a"}})
	f.addTask(t, NewTaskInput{TaskID: "c"})

	_, err := NewSkipTask(f.tasks, f.locker, f.clock, nil).Execute(ctx, SkipTaskInput{ProjectID: "proj", TaskID: "a"})
	require.NoError(t, err)
	_, err = f.startTask().Execute(ctx, StartTaskInput{ProjectID: "proj", TaskID: "c"})
	require.NoError(t, err)

	out, err := NewNextTask(f.tasks).Execute(ctx, NextTaskInput{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Nil(t, out.Task)
	require.Len(t, out.Stalled, 1)
	assert.Equal(t, "b", out.Stalled[0].ID)
	require.Len(t, out.Running, 1)
	assert.Equal(t, "c", out.Running[0].ID)
	assert.Equal(t, 2, out.Remaining)

	_, err = NewNextTask(f.tasks).Execute(ctx, NextTaskInput{})
	assert.ErrorIs(t, err, domain.ErrEmptyProjectID)
}

func TestListTasks_Execute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addTask(t, NewTaskInput{TaskID: "a", Tags: []string{"api", "v2"}})
	f.addTask(t, NewTaskInput{TaskID: "b", Tags: []string{"api"}})
	f.addTask(t, NewTaskInput{TaskID: "c"})
	_, err := f.startTask().Execute(ctx, StartTaskInput{ProjectID: "proj", TaskID: "b"})
	require.NoError(t, err)

	uc := NewListTasks(f.tasks)
	all, err := uc.Execute(ctx, ListTasksInput{ProjectID: "proj"})
	require.NoError(t, err)
	require.Len(t, all.Tasks, 3)
	assert.Equal(t, "a", all.Tasks[0].ID)

	tagged, err := uc.Execute(ctx, ListTasksInput{ProjectID: "proj", Tags: []string{"api", "v2"}})
	require.NoError(t, err)
	require.Len(t, tagged.Tasks, 1)
	assert.Equal(t, "a", tagged.Tasks[0].ID)

	running, err := uc.Execute(ctx, ListTasksInput{ProjectID: "proj", Statuses: []string{"running"}})
	require.NoError(t, err)
	require.Len(t, running.Tasks, 1)
	assert.Equal(t, "b", running.Tasks[0].ID)

	_, err = uc.Execute(ctx, ListTasksInput{ProjectID: "proj", Statuses: []string{"done"}})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	f.tasks.ListErr = errors.New("io")
	_, err = uc.Execute(ctx, ListTasksInput{ProjectID: "proj"})
	assert.ErrorContains(t, err, "list tasks")
}

func TestShowTask_Execute(t *testing.T) {
	f := newFixture()
	f.addTask(t, NewTaskInput{TaskID: "a"})
	f.addTask(t, NewTaskInput{TaskID: "b", DependsOn: []string{"a", "later"}})
	f.addTask(t, NewTaskInput{TaskID: "c", DependsOn: []string{"b"}})

	out, err := NewShowTask(f.tasks).Execute(context.Background(), ShowTaskInput{ProjectID: "proj", TaskID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", out.Task.ID)
	require.Len(t, out.Dependencies, 1)
	assert.Equal(t, "a", out.Dependencies[0].ID)
	assert.Equal(t, []string{"later"}, out.Missing)
	assert.Equal(t, []string{"c"}, out.Dependents)
	assert.False(t, out.Runnable)
	assert.False(t, out.Stalled)

	_, err = NewShowTask(f.tasks).Execute(context.Background(), ShowTaskInput{ProjectID: "proj", TaskID: "zzz"})
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "proj/zzz", nf.ID)
}

func TestTaskStats_Execute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		f.addTask(t, NewTaskInput{TaskID: id})
	}

	// a takes 10m, b takes 20m.
	for _, run := range []struct {
		id  string
		dur time.Duration
	}{{"a", 10 * time.Minute}, {"b", 20 * time.Minute}} {
		_, err := f.startTask().Execute(ctx, StartTaskInput{ProjectID: "proj", TaskID: run.id})
		require.NoError(t, err)
		f.clock.Advance(run.dur)
		_, err = f.completeTask().Execute(ctx, CompleteTaskInput{ProjectID: "proj", TaskID: run.id})
		require.NoError(t, err)
	}
	_, err := NewSkipTask(f.tasks, f.locker, f.clock, nil).Execute(ctx, SkipTaskInput{ProjectID: "proj", TaskID: "c"})
	require.NoError(t, err)

	out, err := NewTaskStats(f.tasks).Execute(ctx, TaskStatsInput{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 2, out.ByStatus[domain.StatusCompleted])
	assert.Equal(t, 1, out.ByStatus[domain.StatusSkipped])
	assert.Equal(t, 1, out.ByStatus[domain.StatusPending])
	assert.Contains(t, out.ByStatus, domain.StatusBlocked)
	assert.Equal(t, 1, out.Remaining)
	assert.InDelta(t, 50.0, out.CompletionPercent, 0.001)
	assert.Equal(t, 15*time.Minute, out.AverageDuration)
	assert.Equal(t, 15*time.Minute, out.ETA)
}

func TestTaskStats_Execute_Empty(t *testing.T) {
	f := newFixture()
	out, err := NewTaskStats(f.tasks).Execute(context.Background(), TaskStatsInput{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Zero(t, out.Total)
	assert.Zero(t, out.CompletionPercent)
	assert.Zero(t, out.ETA)
	assert.Len(t, out.ByStatus, len(domain.AllStatuses()))
}

func TestStalledTasks_Execute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addTask(t, NewTaskInput{TaskID: "a", MaxAttempts: 1})
	f.addTask(t, NewTaskInput{TaskID: "b", DependsOn: []string{"a"}})
	f.addTask(t, NewTaskInput{TaskID: "c", DependsOn: []string{"b"}})

	_, err := f.startTask().Execute(ctx, StartTaskInput{ProjectID: "proj", TaskID: "a"})
	require.NoError(t, err)
	_, err = f.failTask().Execute(ctx, FailTaskInput{ProjectID: "proj", TaskID: "a", Err: errors.New("boom")})
	require.NoError(t, err)

	out, err := NewStalledTasks(f.tasks).Execute(ctx, StalledTasksInput{ProjectID: "proj"})
	require.NoError(t, err)
	require.Len(t, out.Tasks, 1, "c waits on b, which is still pending")
	assert.Equal(t, "b", out.Tasks[0].Task.ID)
	require.Len(t, out.Tasks[0].Blockers, 1)
	assert.Equal(t, domain.StatusFailed, out.Tasks[0].Blockers[0].Status)
	assert.Equal(t, domain.StatusPending, f.tasks.Task("proj", "b").Status, "reporting does not transition")
}

func TestImportExportTasks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	data := []byte(`
project: web
tasks:
  - task_id: api
    title: Build API
    priority: high
    depends_on: [schema]
    tags: [backend]
    estimated_duration: 45m
  - task_id: schema
    title: Design schema
    max_attempts: 5
`)

	imp := NewImportTasks(f.newTask())
	out, err := imp.Execute(ctx, ImportTasksInput{Data: data})
	require.NoError(t, err)
	assert.Equal(t, "web", out.ProjectID)
	assert.Equal(t, []string{"api", "schema"}, out.Created)

	api := f.tasks.Task("web", "api")
	require.NotNil(t, api)
	assert.Equal(t, domain.PriorityHigh, api.Priority)
	assert.Equal(t, 45*time.Minute, api.EstimatedDuration)
	assert.Equal(t, 5, f.tasks.Task("web", "schema").MaxAttempts)

	_, err = imp.Execute(ctx, ImportTasksInput{Data: data})
	assert.ErrorIs(t, err, domain.ErrDuplicateTask)

	again, err := imp.Execute(ctx, ImportTasksInput{Data: data, SkipExisting: true})
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Equal(t, []string{"api", "schema"}, again.Skipped)

	exported, err := NewExportTasks(f.tasks, f.clock).Execute(ctx, ExportTasksInput{ProjectID: "web"})
	require.NoError(t, err)
	assert.Equal(t, 2, exported.Count)

	// The export imports cleanly into another project.
	copied, err := imp.Execute(ctx, ImportTasksInput{ProjectID: "web-copy", Data: exported.Data})
	require.NoError(t, err)
	assert.Len(t, copied.Created, 2)
	assert.Equal(t, []string{"schema"}, f.tasks.Task("web-copy", "api").DependsOn)
}

func TestImportTasks_Execute_Errors(t *testing.T) {
	f := newFixture()
	imp := NewImportTasks(f.newTask())

	_, err := imp.Execute(context.Background(), ImportTasksInput{Data: []byte("tasks: [")})
	assert.ErrorContains(t, err, "parse task file")

	_, err = imp.Execute(context.Background(), ImportTasksInput{Data: []byte("tasks: []")})
	assert.ErrorIs(t, err, domain.ErrEmptyProjectID)

	out, err := imp.Execute(context.Background(), ImportTasksInput{ProjectID: "p", Data: []byte(`
tasks:
  - task_id: ok
    title: fine
  - task_id: bad
    title: ""
`)})
	assert.ErrorIs(t, err, domain.ErrEmptyTitle)
	require.NotNil(t, out)
	assert.Equal(t, []string{"ok"}, out.Created)
}
