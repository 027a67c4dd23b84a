package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(total int) *Session {
	return NewSession("proj-s1", "proj", "nightly", "", total, nil, testNow)
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID("proj", testNow, "ABCDEF0123456789")
	assert.Equal(t, "proj-20260118T100000-abcdef01", id)
}

func TestSession_Lifecycle(t *testing.T) {
	s := newTestSession(3)
	assert.False(t, s.CanResume())

	require.NoError(t, s.Start(testNow))
	assert.Equal(t, SessionRunning, s.Status)
	assert.ErrorIs(t, s.Start(testNow), ErrInvalidTransition)

	require.NoError(t, s.Pause(testNow))
	assert.True(t, s.CanResume())

	require.NoError(t, s.Resume(testNow))
	require.NoError(t, s.Fail("driver crashed", testNow))
	assert.Equal(t, "driver crashed", s.Error)
	assert.True(t, s.CanResume())

	require.NoError(t, s.Resume(testNow))
	assert.Empty(t, s.Error)

	require.NoError(t, s.Complete(map[string]any{"done": 3}, testNow))
	assert.Equal(t, SessionCompleted, s.Status)
	assert.ErrorIs(t, s.Cancel("late", testNow), ErrInvalidTransition)
}

func TestSession_CancelFromFailed(t *testing.T) {
	s := newTestSession(1)
	require.NoError(t, s.Fail("boom", testNow))
	require.NoError(t, s.Cancel("abandoned", testNow))
	assert.Equal(t, "abandoned", s.CancelReason)
	assert.False(t, s.CanResume())
}

func TestSession_RecordProgress_IsIdempotent(t *testing.T) {
	s := newTestSession(3)
	require.NoError(t, s.Start(testNow))

	for range 3 {
		require.NoError(t, s.RecordProgress(ProgressUpdate{CompletedID: "t1"}, testNow))
	}
	assert.Equal(t, []string{"t1"}, s.CompletedTaskIDs)

	require.NoError(t, s.RecordProgress(ProgressUpdate{FailedID: "t1"}, testNow))
	assert.Empty(t, s.FailedTaskIDs, "completed ids must not also be failed")
}

func TestSession_RecordProgress_CompletionMovesOutOfFailed(t *testing.T) {
	s := newTestSession(2)
	require.NoError(t, s.Start(testNow))

	require.NoError(t, s.RecordProgress(ProgressUpdate{CurrentTaskID: "t1"}, testNow))
	assert.Equal(t, "t1", s.CurrentTaskID)

	require.NoError(t, s.RecordProgress(ProgressUpdate{FailedID: "t1"}, testNow))
	assert.Equal(t, []string{"t1"}, s.FailedTaskIDs)
	assert.Empty(t, s.CurrentTaskID)

	require.NoError(t, s.RecordProgress(ProgressUpdate{SkippedID: "t1"}, testNow))
	assert.Empty(t, s.SkippedTaskIDs)

	require.NoError(t, s.RecordProgress(ProgressUpdate{CompletedID: "t1"}, testNow))
	assert.Equal(t, []string{"t1"}, s.CompletedTaskIDs)
	assert.Empty(t, s.FailedTaskIDs)
}

func TestSession_RecordProgress_RejectedWhenTerminal(t *testing.T) {
	s := newTestSession(1)
	require.NoError(t, s.Cancel("stop", testNow))

	err := s.RecordProgress(ProgressUpdate{CompletedID: "t1"}, testNow)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, s.CompletedTaskIDs)
}

func TestSession_RecordProgress_UpdatesLastActive(t *testing.T) {
	s := newTestSession(1)
	later := testNow.Add(time.Hour)
	require.NoError(t, s.RecordProgress(ProgressUpdate{CurrentTaskID: "t1"}, later))
	assert.Equal(t, later, s.LastActive)
}

func TestSession_CompletionPercent(t *testing.T) {
	s := newTestSession(3)
	require.NoError(t, s.Start(testNow))
	require.NoError(t, s.RecordProgress(ProgressUpdate{CompletedID: "t1"}, testNow))
	require.NoError(t, s.RecordProgress(ProgressUpdate{CompletedID: "t2"}, testNow))
	assert.InDelta(t, 66.67, s.CompletionPercent(), 0.0001)

	empty := newTestSession(0)
	assert.Zero(t, empty.CompletionPercent())
}

func TestSession_CheckpointAndRestore(t *testing.T) {
	s := newTestSession(3)
	require.NoError(t, s.Start(testNow))
	require.NoError(t, s.RecordProgress(ProgressUpdate{CompletedID: "t1"}, testNow))

	id := s.NextCheckpointID()
	assert.Equal(t, "proj-s1-ckpt-0001", id)
	cp := NewCheckpoint(id, s, map[string]any{"note": "first"}, testNow)
	s.AddCheckpoint(cp.ID, testNow)

	require.NoError(t, s.RecordProgress(ProgressUpdate{CompletedID: "t2"}, testNow))
	require.NoError(t, s.RecordProgress(ProgressUpdate{FailedID: "t3"}, testNow))

	err := s.RestoreFrom(cp, testNow)
	assert.ErrorIs(t, err, ErrConflict, "running sessions cannot be restored")

	require.NoError(t, s.Pause(testNow))
	require.NoError(t, s.RestoreFrom(cp, testNow.Add(time.Minute)))
	assert.Equal(t, SessionPaused, s.Status)
	assert.Equal(t, []string{"t1"}, s.CompletedTaskIDs)
	assert.Empty(t, s.FailedTaskIDs)
	assert.Equal(t, cp.ID, s.LastCheckpointID)
	assert.Equal(t, []string{cp.ID}, s.CheckpointIDs)

	// The checkpoint is a snapshot, not a view.
	require.NoError(t, s.Resume(testNow))
	require.NoError(t, s.RecordProgress(ProgressUpdate{CompletedID: "t2"}, testNow))
	assert.Equal(t, []string{"t1"}, cp.Progress.CompletedTaskIDs)
}

func TestSession_RestoreFrom_TerminalConflicts(t *testing.T) {
	s := newTestSession(1)
	cp := NewCheckpoint(s.NextCheckpointID(), s, nil, testNow)
	require.NoError(t, s.Start(testNow))
	require.NoError(t, s.Complete(nil, testNow))

	err := s.RestoreFrom(cp, testNow)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, SessionCompleted, s.Status)
}

func TestSession_InScope(t *testing.T) {
	s := NewSession("s", "p", "n", "", 2, []string{"a", "b"}, testNow)
	assert.True(t, s.InScope("a"))
	assert.False(t, s.InScope("c"))
	assert.True(t, newTestSession(1).InScope("anything"))
}
