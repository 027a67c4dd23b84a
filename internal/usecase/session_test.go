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

func TestNewSession_Execute(t *testing.T) {
	f := newFixture()
	uc := f.newSession()
	uc.newSuffix = func() string { return "0f8fad5b-d9cb-469f-a165-70867728950e" }

	out, err := uc.Execute(context.Background(), NewSessionInput{ProjectID: "proj", Name: " nightly ", TaskIDs: []string{"a", "b", "a"}})
	require.NoError(t, err)

	s := out.Session
	assert.Equal(t, "proj-20260118T100000-0f8fad5b", s.ID)
	assert.Equal(t, "nightly", s.Name)
	assert.Equal(t, domain.SessionCreated, s.Status)
	assert.Equal(t, []string{"a", "b"}, s.TaskIDs)
	assert.Equal(t, 2, s.TasksTotal)
	assert.NotNil(t, f.sessions.Session(s.ID))

	_, err = uc.Execute(context.Background(), NewSessionInput{ProjectID: "proj", Name: "again"})
	assert.ErrorIs(t, err, domain.ErrConflict, "same second and suffix collide")
}

func TestNewSession_Execute_TotalFromProject(t *testing.T) {
	f := newFixture()
	f.addTask(t, NewTaskInput{TaskID: "a"})
	f.addTask(t, NewTaskInput{TaskID: "b"})
	f.addTask(t, NewTaskInput{TaskID: "c"})
	_, err := NewSkipTask(f.tasks, f.locker, f.clock, nil).Execute(context.Background(), SkipTaskInput{ProjectID: "proj", TaskID: "c"})
	require.NoError(t, err)

	s := f.addSession(t, NewSessionInput{})
	assert.Equal(t, 2, s.TasksTotal)

	explicit := f.addSession(t, NewSessionInput{TasksTotal: intPtr(10)})
	assert.Equal(t, 10, explicit.TasksTotal)

	empty := f.addSession(t, NewSessionInput{TasksTotal: intPtr(0)})
	assert.Zero(t, empty.TasksTotal, "an explicit zero is kept")
	assert.Zero(t, empty.CompletionPercent())

	scoped := f.addSession(t, NewSessionInput{TaskIDs: []string{"a"}, TasksTotal: intPtr(0)})
	assert.Zero(t, scoped.TasksTotal, "an explicit zero wins over the scope size")
}

func TestNewSession_Execute_Validation(t *testing.T) {
	f := newFixture()
	uc := f.newSession()

	_, err := uc.Execute(context.Background(), NewSessionInput{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrEmptyProjectID)
	_, err = uc.Execute(context.Background(), NewSessionInput{ProjectID: "proj", Name: "  "})
	assert.ErrorIs(t, err, domain.ErrEmptySessionName)
	_, err = uc.Execute(context.Background(), NewSessionInput{ProjectID: "proj", Name: "x", TaskIDs: []string{"bad id"}})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = uc.Execute(context.Background(), NewSessionInput{ProjectID: "proj", Name: "x", TasksTotal: intPtr(-1)})
	assert.Error(t, err)
}

func TestSessionLifecycle_OneRunningPerProject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.addSession(t, NewSessionInput{TasksTotal: intPtr(1)})
	second := f.addSession(t, NewSessionInput{TasksTotal: intPtr(1)})
	other := f.addSession(t, NewSessionInput{ProjectID: "other", TasksTotal: intPtr(1)})

	start := NewStartSession(f.sessions, f.locker, f.clock, f.logger)
	_, err := start.Execute(ctx, SessionInput{SessionID: first.ID})
	require.NoError(t, err)

	_, err = start.Execute(ctx, SessionInput{SessionID: second.ID})
	assert.ErrorIs(t, err, domain.ErrSessionRunning)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.SessionCreated, f.sessions.Session(second.ID).Status)

	_, err = start.Execute(ctx, SessionInput{SessionID: other.ID})
	assert.NoError(t, err, "other projects are independent")

	_, err = NewPauseSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: first.ID})
	require.NoError(t, err)
	_, err = start.Execute(ctx, SessionInput{SessionID: second.ID})
	require.NoError(t, err)

	resume := NewResumeSession(f.sessions, f.locker, f.clock, f.logger)
	_, err = resume.Execute(ctx, SessionInput{SessionID: first.ID})
	assert.ErrorIs(t, err, domain.ErrSessionRunning)

	_, err = NewCompleteSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, CompleteSessionInput{SessionID: second.ID, Result: map[string]any{"ok": true}})
	require.NoError(t, err)
	resumed, err := resume.Execute(ctx, SessionInput{SessionID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRunning, resumed.Session.Status)
}

func TestSessionLifecycle_FailCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.addSession(t, NewSessionInput{TasksTotal: intPtr(1)})

	_, err := NewStartSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: s.ID})
	require.NoError(t, err)
	failed, err := NewFailSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, FailSessionInput{SessionID: s.ID, Message: "performer crashed"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, failed.Session.Status)
	assert.Equal(t, "performer crashed", failed.Session.Error)

	cancelled, err := NewCancelSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, CancelSessionInput{SessionID: s.ID, Reason: "abandoned"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, cancelled.Session.Status)

	_, err = NewResumeSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: s.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = NewPauseSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: "missing"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRecordProgress_ConcurrentUpdates(t *testing.T) {
	f := newFixture()
	s := f.addSession(t, NewSessionInput{TasksTotal: intPtr(50)})
	uc := NewRecordProgress(f.sessions, f.locker, f.clock, f.logger)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "t" + string(rune('A'+i%26)) + string(rune('a'+i/26))
			_, err := uc.Execute(context.Background(), RecordProgressInput{SessionID: s.ID, Update: domain.ProgressUpdate{CompletedID: id}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got := f.sessions.Session(s.ID)
	assert.Len(t, got.CompletedTaskIDs, 50, "no update may be lost")
}

func TestRecordProgress_Rules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.addSession(t, NewSessionInput{TasksTotal: intPtr(3)})
	uc := NewRecordProgress(f.sessions, f.locker, f.clock, f.logger)

	record := func(u domain.ProgressUpdate) *domain.Session {
		out, err := uc.Execute(ctx, RecordProgressInput{SessionID: s.ID, Update: u})
		require.NoError(t, err)
		return out.Session
	}
	record(domain.ProgressUpdate{CurrentTaskID: "a"})
	record(domain.ProgressUpdate{FailedID: "a"})
	got := record(domain.ProgressUpdate{SkippedID: "a"})
	assert.Equal(t, []string{"a"}, got.FailedTaskIDs)
	assert.Empty(t, got.SkippedTaskIDs, "settled ids are not added to another set")

	got = record(domain.ProgressUpdate{CompletedID: "a"})
	assert.Equal(t, []string{"a"}, got.CompletedTaskIDs)
	assert.Empty(t, got.FailedTaskIDs, "completion wins")
	assert.Empty(t, got.CurrentTaskID)

	_, err := NewCancelSession(f.sessions, f.locker, f.clock, nil).Execute(ctx, CancelSessionInput{SessionID: s.ID})
	require.NoError(t, err)
	_, err = uc.Execute(ctx, RecordProgressInput{SessionID: s.ID, Update: domain.ProgressUpdate{CompletedID: "b"}})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCheckpoint_CreateAndRestore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.addSession(t, NewSessionInput{TasksTotal: intPtr(3)})
	_, err := NewStartSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: s.ID})
	require.NoError(t, err)

	progress := NewRecordProgress(f.sessions, f.locker, f.clock, f.logger)
	create := NewCreateCheckpoint(f.sessions, f.checkpoints, f.locker, f.clock, f.logger)
	_, err = progress.Execute(ctx, RecordProgressInput{SessionID: s.ID, Update: domain.ProgressUpdate{CompletedID: "a"}})
	require.NoError(t, err)

	cp1, err := create.Execute(ctx, CreateCheckpointInput{SessionID: s.ID, Context: map[string]any{"note": "after a"}})
	require.NoError(t, err)
	assert.Equal(t, s.ID+"-ckpt-0001", cp1.Checkpoint.ID)
	assert.Equal(t, []string{"a"}, cp1.Checkpoint.Progress.CompletedTaskIDs)
	assert.Equal(t, cp1.Checkpoint.ID, cp1.Session.LastCheckpointID)

	_, err = progress.Execute(ctx, RecordProgressInput{SessionID: s.ID, Update: domain.ProgressUpdate{CompletedID: "b"}})
	require.NoError(t, err)
	cp2, err := create.Execute(ctx, CreateCheckpointInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.Equal(t, s.ID+"-ckpt-0002", cp2.Checkpoint.ID)

	restore := NewRestoreCheckpoint(f.sessions, f.checkpoints, f.locker, f.clock, f.logger)
	_, err = restore.Execute(ctx, RestoreCheckpointInput{CheckpointID: cp1.Checkpoint.ID})
	assert.ErrorIs(t, err, domain.ErrConflict, "running sessions cannot be restored")

	_, err = NewPauseSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: s.ID})
	require.NoError(t, err)
	restored, err := restore.Execute(ctx, RestoreCheckpointInput{CheckpointID: cp1.Checkpoint.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPaused, restored.Session.Status)
	assert.Equal(t, []string{"a"}, restored.Session.CompletedTaskIDs)
	assert.Equal(t, cp1.Checkpoint.ID, restored.Session.LastCheckpointID)
	assert.Equal(t, []string{cp1.Checkpoint.ID, cp2.Checkpoint.ID}, restored.Session.CheckpointIDs)

	// Checkpoint ids keep increasing after a restore.
	cp3, err := create.Execute(ctx, CreateCheckpointInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.Equal(t, s.ID+"-ckpt-0003", cp3.Checkpoint.ID)

	list, err := NewListCheckpoints(f.sessions, f.checkpoints).Execute(ctx, ListCheckpointsInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.Len(t, list.Checkpoints, 3)

	_, err = restore.Execute(ctx, RestoreCheckpointInput{CheckpointID: "nope"})
	assert.ErrorIs(t, err, domain.ErrCheckpointMissing)
}

func TestCreateCheckpoint_SkipsTakenIDs(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.addSession(t, NewSessionInput{TasksTotal: intPtr(1)})

	// A checkpoint written before a crash, without the session update.
	orphan := domain.NewCheckpoint(domain.CheckpointID(s.ID, 1), s, nil, testNow)
	require.NoError(t, f.checkpoints.Create(orphan))

	out, err := NewCreateCheckpoint(f.sessions, f.checkpoints, f.locker, f.clock, f.logger).Execute(ctx, CreateCheckpointInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointID(s.ID, 2), out.Checkpoint.ID)
	assert.Equal(t, 2, f.sessions.Session(s.ID).CheckpointCounter)

	f.checkpoints.CreateErr = errors.New("disk full")
	_, err = NewCreateCheckpoint(f.sessions, f.checkpoints, f.locker, f.clock, f.logger).Execute(ctx, CreateCheckpointInput{SessionID: s.ID})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 2, f.sessions.Session(s.ID).CheckpointCounter, "failed checkpoints do not advance the counter")
}

func TestRestoreCheckpoint_MissingSession(t *testing.T) {
	f := newFixture()
	s := domain.NewSession("ghost", "proj", "ghost", "", 1, nil, testNow)
	require.NoError(t, f.checkpoints.Create(domain.NewCheckpoint("ghost-ckpt-0001", s, nil, testNow)))

	_, err := NewRestoreCheckpoint(f.sessions, f.checkpoints, f.locker, f.clock, f.logger).Execute(context.Background(), RestoreCheckpointInput{CheckpointID: "ghost-ckpt-0001"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestFindResumable_Execute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	uc := NewFindResumable(f.sessions)

	out, err := uc.Execute(ctx, FindResumableInput{ProjectID: "proj"})
	require.NoError(t, err)
	assert.Nil(t, out.Session)

	older := domain.NewSession("proj-old", "proj", "old", "", 1, nil, testNow)
	older.Status = domain.SessionPaused
	newer := domain.NewSession("proj-new", "proj", "new", "", 1, nil, testNow)
	newer.Status = domain.SessionFailed
	newer.LastActive = testNow.Add(time.Hour)
	latest := domain.NewSession("proj-done", "proj", "done", "", 1, nil, testNow)
	latest.Status = domain.SessionCompleted
	latest.LastActive = testNow.Add(2 * time.Hour)
	f.sessions.Put(older, newer, latest)

	out, err = uc.Execute(ctx, FindResumableInput{ProjectID: "proj"})
	require.NoError(t, err)
	require.NotNil(t, out.Session)
	assert.Equal(t, "proj-new", out.Session.ID)
}

func TestSessionStats_Execute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.addSession(t, NewSessionInput{TasksTotal: intPtr(3)})
	_, err := NewStartSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: s.ID})
	require.NoError(t, err)

	progress := NewRecordProgress(f.sessions, f.locker, f.clock, f.logger)
	for _, id := range []string{"a", "b"} {
		_, err := progress.Execute(ctx, RecordProgressInput{SessionID: s.ID, Update: domain.ProgressUpdate{CompletedID: id}})
		require.NoError(t, err)
	}
	f.clock.Advance(10 * time.Minute)

	stats := NewSessionStats(f.sessions, f.clock)
	out, err := stats.Execute(ctx, SessionStatsInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.InDelta(t, 66.67, out.CompletionPercent, 0.0001)
	assert.Equal(t, 2, out.Completed)
	assert.Equal(t, 1, out.Remaining)
	assert.False(t, out.CanResume)
	assert.Equal(t, 10*time.Minute, out.Elapsed)
	assert.Equal(t, 10*time.Minute, out.Idle)

	_, err = NewPauseSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: s.ID})
	require.NoError(t, err)
	out, err = stats.Execute(ctx, SessionStatsInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.True(t, out.CanResume)
	assert.Zero(t, out.Idle)
}

func TestReconcileSession_Execute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addTask(t, NewTaskInput{TaskID: "before"})
	_, err := f.startTask().Execute(ctx, StartTaskInput{ProjectID: "proj", TaskID: "before"})
	require.NoError(t, err)
	_, err = f.completeTask().Execute(ctx, CompleteTaskInput{ProjectID: "proj", TaskID: "before"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)

	s := f.addSession(t, NewSessionInput{TasksTotal: intPtr(2)})
	f.addTask(t, NewTaskInput{TaskID: "a"})
	f.addTask(t, NewTaskInput{TaskID: "b"})

	// The driver completed a but crashed before recording it.
	_, err = f.startTask().Execute(ctx, StartTaskInput{ProjectID: "proj", TaskID: "a"})
	require.NoError(t, err)
	_, err = f.completeTask().Execute(ctx, CompleteTaskInput{ProjectID: "proj", TaskID: "a"})
	require.NoError(t, err)
	_, err = NewRecordProgress(f.sessions, f.locker, f.clock, nil).Execute(ctx, RecordProgressInput{SessionID: s.ID, Update: domain.ProgressUpdate{FailedID: "ghost"}})
	require.NoError(t, err)

	uc := NewReconcileSession(f.tasks, f.sessions, f.locker, f.clock, f.logger)
	dry, err := uc.Execute(ctx, ReconcileSessionInput{SessionID: s.ID, DryRun: true})
	require.NoError(t, err)
	assert.Len(t, dry.Corrections, 2)
	assert.Equal(t, []string{"ghost"}, f.sessions.Session(s.ID).FailedTaskIDs, "dry run saves nothing")

	out, err := uc.Execute(ctx, ReconcileSessionInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.Equal(t, []domain.ProgressCorrection{
		{TaskID: "ghost", From: domain.ProgressFailed},
		{TaskID: "a", To: domain.ProgressCompleted},
	}, out.Corrections)

	got := f.sessions.Session(s.ID)
	assert.Equal(t, []string{"a"}, got.CompletedTaskIDs, "tasks finished before the session are out of scope")
	assert.Empty(t, got.FailedTaskIDs)
	assert.True(t, f.logger.Contains("ghost: failed -> -"))

	again, err := uc.Execute(ctx, ReconcileSessionInput{SessionID: s.ID})
	require.NoError(t, err)
	assert.Empty(t, again.Corrections)
}

func TestListAndShowSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addSession(t, NewSessionInput{Name: "a", TasksTotal: intPtr(1)})
	b := f.addSession(t, NewSessionInput{Name: "b", TasksTotal: intPtr(1)})
	_, err := NewStartSession(f.sessions, f.locker, f.clock, f.logger).Execute(ctx, SessionInput{SessionID: a.ID})
	require.NoError(t, err)

	list, err := NewListSessions(f.sessions).Execute(ctx, ListSessionsInput{ProjectID: "proj"})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, a.ID, list.Sessions[0].ID, "most recently active first")

	created, err := NewListSessions(f.sessions).Execute(ctx, ListSessionsInput{ProjectID: "proj", Statuses: []string{"created"}})
	require.NoError(t, err)
	require.Len(t, created.Sessions, 1)
	assert.Equal(t, b.ID, created.Sessions[0].ID)

	_, err = NewListSessions(f.sessions).Execute(ctx, ListSessionsInput{ProjectID: "proj", Statuses: []string{"sleeping"}})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = NewCreateCheckpoint(f.sessions, f.checkpoints, f.locker, f.clock, f.logger).Execute(ctx, CreateCheckpointInput{SessionID: a.ID})
	require.NoError(t, err)
	show, err := NewShowSession(f.sessions, f.checkpoints).Execute(ctx, ShowSessionInput{SessionID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, a.ID, show.Session.ID)
	assert.Len(t, show.Checkpoints, 1)
}
