package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/retry"
	"github.com/runoshun/crewstate/internal/testutil"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 18, 10, 0, 0, 0, time.UTC)

// fixture bundles in-memory ports shared by the use case tests.
type fixture struct {
	tasks       *testutil.MockTaskRepository
	sessions    *testutil.MockSessionRepository
	checkpoints *testutil.MockCheckpointRepository
	locker      *testutil.MockLocker
	clock       *testutil.MockClock
	logger      *testutil.MockLogger
	config      *testutil.MockConfigLoader
	metrics     *testutil.MockMetrics
}

func newFixture() *fixture {
	return &fixture{
		tasks:       testutil.NewMockTaskRepository(),
		sessions:    testutil.NewMockSessionRepository(),
		checkpoints: testutil.NewMockCheckpointRepository(),
		locker:      testutil.NewMockLocker(),
		clock:       &testutil.MockClock{NowTime: testNow},
		logger:      &testutil.MockLogger{},
		config:      &testutil.MockConfigLoader{},
		metrics:     testutil.NewMockMetrics(),
	}
}

func (f *fixture) newTask() *NewTask {
	return NewNewTask(f.tasks, f.locker, f.config, f.clock, f.logger)
}

func (f *fixture) startTask() *StartTask {
	return NewStartTask(f.tasks, f.locker, f.clock, f.logger)
}

func (f *fixture) completeTask() *CompleteTask {
	return NewCompleteTask(f.tasks, f.locker, f.clock, f.logger)
}

func (f *fixture) failTask() *FailTask {
	return NewFailTask(f.tasks, f.locker, f.clock, f.logger, retry.NewClassifier(f.clock).Wrap)
}

func (f *fixture) addTask(t *testing.T, in NewTaskInput) *domain.Task {
	t.Helper()
	if in.ProjectID == "" {
		in.ProjectID = "proj"
	}
	if in.Title == "" {
		in.Title = "Task " + in.TaskID
	}
	out, err := f.newTask().Execute(context.Background(), in)
	require.NoError(t, err)
	// Keep creation times distinct so creation order is deterministic.
	f.clock.Advance(time.Second)
	return out.Task
}

func (f *fixture) newSession() *NewSession {
	return NewNewSession(f.sessions, f.tasks, f.locker, f.clock, f.logger)
}

func (f *fixture) addSession(t *testing.T, in NewSessionInput) *domain.Session {
	t.Helper()
	if in.ProjectID == "" {
		in.ProjectID = "proj"
	}
	if in.Name == "" {
		in.Name = "run"
	}
	out, err := f.newSession().Execute(context.Background(), in)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return out.Session
}

func intPtr(n int) *int { return &n }
