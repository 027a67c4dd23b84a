package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_Execute(t *testing.T) {
	f := newFixture()

	out, err := f.newTask().Execute(context.Background(), NewTaskInput{
		ProjectID:         "proj",
		TaskID:            "api-1",
		Title:             "  Build API  ",
		Description:       "implement the endpoints",
		Type:              "feature",
		Priority:          "high",
		DependsOn:         []string{"schema", "schema", ""},
		Tags:              []string{"api", "api"},
		EstimatedDuration: 30 * time.Minute,
	})
	require.NoError(t, err)

	task := out.Task
	assert.Equal(t, "Build API", task.Title)
	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, domain.PriorityHigh, task.Priority)
	assert.Equal(t, []string{"schema"}, task.DependsOn)
	assert.Equal(t, []string{"api"}, task.Tags)
	assert.Equal(t, domain.DefaultMaxAttempts, task.MaxAttempts)
	assert.Equal(t, testNow, task.CreatedAt)
	assert.Zero(t, task.AttemptCount)

	stored := f.tasks.Task("proj", "api-1")
	require.NotNil(t, stored)
	assert.Equal(t, "feature", stored.Type)
	assert.Equal(t, []string{"project-proj"}, f.locker.Calls)
	assert.True(t, f.logger.Contains("created api-1"))
}

func TestNewTask_Execute_Defaults(t *testing.T) {
	f := newFixture()
	cfg := domain.NewDefaultConfig()
	cfg.Tasks.DefaultPriority = domain.PriorityLow
	cfg.Tasks.MaxAttempts = 7
	f.config.Config = cfg

	task := f.addTask(t, NewTaskInput{TaskID: "a"})
	assert.Equal(t, domain.PriorityLow, task.Priority)
	assert.Equal(t, 7, task.MaxAttempts)

	explicit := f.addTask(t, NewTaskInput{TaskID: "b", MaxAttempts: 2})
	assert.Equal(t, 2, explicit.MaxAttempts)
}

func TestNewTask_Execute_Validation(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		in      NewTaskInput
	}{
		{name: "empty project", in: NewTaskInput{TaskID: "a", Title: "A"}, wantErr: domain.ErrEmptyProjectID},
		{name: "empty task id", in: NewTaskInput{ProjectID: "p", Title: "A"}, wantErr: domain.ErrEmptyTaskID},
		{name: "invalid task id", in: NewTaskInput{ProjectID: "p", TaskID: "a b", Title: "A"}, wantErr: domain.ErrInvalidID},
		{name: "invalid project id", in: NewTaskInput{ProjectID: "../p", TaskID: "a", Title: "A"}, wantErr: domain.ErrInvalidID},
		{name: "blank title", in: NewTaskInput{ProjectID: "p", TaskID: "a", Title: "   "}, wantErr: domain.ErrEmptyTitle},
		{name: "invalid dependency", in: NewTaskInput{ProjectID: "p", TaskID: "a", Title: "A", DependsOn: []string{"x/y"}}, wantErr: domain.ErrInvalidID},
		{name: "invalid priority", in: NewTaskInput{ProjectID: "p", TaskID: "a", Title: "A", Priority: "urgent"}, wantErr: domain.ErrInvalidPriority},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.newTask().Execute(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.tasks.Tasks)
		})
	}
}

func TestNewTask_Execute_Duplicate(t *testing.T) {
	f := newFixture()
	f.addTask(t, NewTaskInput{TaskID: "a", Title: "first"})

	_, err := f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "proj", TaskID: "a", Title: "second"})
	var dup *domain.DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "a", dup.TaskID)
	assert.Equal(t, "first", f.tasks.Task("proj", "a").Title)

	// Same id in another project is fine.
	_, err = f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "other", TaskID: "a", Title: "other"})
	assert.NoError(t, err)
}

func TestNewTask_Execute_ForwardReferenceAndCycle(t *testing.T) {
	f := newFixture()

	// b depends on a task that does not exist yet.
	f.addTask(t, NewTaskInput{TaskID: "b", DependsOn: []string{"a"}})

	// a -> b would close the cycle a -> b -> a.
	_, err := f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "proj", TaskID: "a", Title: "A", DependsOn: []string{"b"}})
	var cyc *domain.CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"a", "b", "a"}, cyc.Path)
	assert.Nil(t, f.tasks.Task("proj", "a"))

	_, err = f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "proj", TaskID: "c", Title: "C", DependsOn: []string{"c"}})
	assert.ErrorIs(t, err, domain.ErrCyclicDependency)
}

func TestNewTask_Execute_ConcurrentDuplicate(t *testing.T) {
	f := newFixture()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "proj", TaskID: "same", Title: "T"})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateTask)
	}
	assert.Equal(t, 1, succeeded)
}

func TestNewTask_Execute_RepositoryErrors(t *testing.T) {
	f := newFixture()
	f.tasks.SaveErr = errors.New("disk full")
	_, err := f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "proj", TaskID: "a", Title: "A"})
	assert.ErrorContains(t, err, "save task: disk full")

	f = newFixture()
	f.locker.LockErr = errors.New("lock busy")
	_, err = f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "proj", TaskID: "a", Title: "A"})
	assert.ErrorContains(t, err, "lock project proj")

	f = newFixture()
	f.config.LoadErr = errors.New("bad toml")
	_, err = f.newTask().Execute(context.Background(), NewTaskInput{ProjectID: "proj", TaskID: "a", Title: "A"})
	assert.ErrorContains(t, err, "load config")
}
