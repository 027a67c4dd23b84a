package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
)

// Session is one resumable execution run over a project's tasks.
// Fields are ordered to minimize memory padding.
type Session struct {
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         time.Time      `json:"started_at,omitempty"`
	CompletedAt       time.Time      `json:"completed_at,omitempty"`
	LastActive        time.Time      `json:"last_active"`
	Result            map[string]any `json:"result,omitempty"`
	ID                string         `json:"session_id"`
	ProjectID         string         `json:"project_id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Status            SessionStatus  `json:"status"`
	CurrentTaskID     string         `json:"current_task_id,omitempty"`
	LastCheckpointID  string         `json:"last_checkpoint_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	CancelReason      string         `json:"cancel_reason,omitempty"`
	TaskIDs           []string       `json:"task_ids,omitempty"` // Fixed scope (empty = all project tasks)
	CompletedTaskIDs  []string       `json:"completed_task_ids"`
	FailedTaskIDs     []string       `json:"failed_task_ids"`
	SkippedTaskIDs    []string       `json:"skipped_task_ids"`
	CheckpointIDs     []string       `json:"checkpoint_ids"`
	TasksTotal        int            `json:"tasks_total"`
	CheckpointCounter int            `json:"checkpoint_counter"` // Next checkpoint sequence
}

// NewSessionID derives a session id from the project, creation time and a short random suffix.
func NewSessionID(projectID string, createdAt time.Time, suffix string) string {
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s-%s-%s", projectID, createdAt.UTC().Format("20060102T150405"), strings.ToLower(suffix))
}

// NewSession creates a session in the created state.
func NewSession(id, projectID, name, description string, tasksTotal int, taskIDs []string, now time.Time) *Session {
	return &Session{
		ID:               id,
		ProjectID:        projectID,
		Name:             name,
		Description:      description,
		Status:           SessionCreated,
		TasksTotal:       tasksTotal,
		TaskIDs:          slices.Clone(taskIDs),
		CompletedTaskIDs: []string{},
		FailedTaskIDs:    []string{},
		SkippedTaskIDs:   []string{},
		CheckpointIDs:    []string{},
		CreatedAt:        now,
		LastActive:       now,
	}
}

// Clone returns a copy that shares no slices or maps with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Result = maps.Clone(s.Result)
	c.TaskIDs = slices.Clone(s.TaskIDs)
	c.CompletedTaskIDs = slices.Clone(s.CompletedTaskIDs)
	c.FailedTaskIDs = slices.Clone(s.FailedTaskIDs)
	c.SkippedTaskIDs = slices.Clone(s.SkippedTaskIDs)
	c.CheckpointIDs = slices.Clone(s.CheckpointIDs)
	return &c
}

func (s *Session) transition(to SessionStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(to) {
		return &InvalidTransitionError{Entity: "session", ID: s.ID, From: string(s.Status), To: string(to)}
	}
	s.Status = to
	s.LastActive = now
	return nil
}

// Start moves a created session to running.
func (s *Session) Start(now time.Time) error {
	if s.Status != SessionCreated {
		return &InvalidTransitionError{Entity: "session", ID: s.ID, From: string(s.Status), To: string(SessionRunning)}
	}
	if err := s.transition(SessionRunning, now); err != nil {
		return err
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	return nil
}

// Pause moves a running session to paused.
func (s *Session) Pause(now time.Time) error {
	return s.transition(SessionPaused, now)
}

// Resume moves a paused or failed session back to running.
func (s *Session) Resume(now time.Time) error {
	if !s.Status.IsResumable() {
		return &InvalidTransitionError{Entity: "session", ID: s.ID, From: string(s.Status), To: string(SessionRunning)}
	}
	s.Error = ""
	if err := s.transition(SessionRunning, now); err != nil {
		return err
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	return nil
}

// Complete moves a running or paused session to completed.
func (s *Session) Complete(result map[string]any, now time.Time) error {
	if err := s.transition(SessionCompleted, now); err != nil {
		return err
	}
	s.Result = maps.Clone(result)
	s.CurrentTaskID = ""
	s.CompletedAt = now
	return nil
}

// Fail moves a session to failed and records the message.
func (s *Session) Fail(message string, now time.Time) error {
	if err := s.transition(SessionFailed, now); err != nil {
		return err
	}
	s.Error = message
	return nil
}

// Cancel moves any non-terminal session to cancelled.
func (s *Session) Cancel(reason string, now time.Time) error {
	if err := s.transition(SessionCancelled, now); err != nil {
		return err
	}
	s.CancelReason = reason
	s.CompletedAt = now
	return nil
}

// ProgressUpdate carries the ids to record. Empty fields are ignored.
type ProgressUpdate struct {
	CurrentTaskID string
	CompletedID   string
	FailedID      string
	SkippedID     string
}

// IsEmpty returns true if the update carries no ids.
func (u ProgressUpdate) IsEmpty() bool {
	return u.CurrentTaskID == "" && u.CompletedID == "" && u.FailedID == "" && u.SkippedID == ""
}

// RecordProgress applies u to the progress sets.
// Ids are only ever added once. An id already in another set is left alone
// unless it is being completed, in which case it moves out of failed and skipped.
func (s *Session) RecordProgress(u ProgressUpdate, now time.Time) error {
	if s.Status.IsTerminal() {
		return &ConflictError{ID: s.ID, Reason: fmt.Sprintf("cannot record progress on %s session", s.Status)}
	}
	if u.CurrentTaskID != "" {
		s.CurrentTaskID = u.CurrentTaskID
	}
	if id := u.CompletedID; id != "" && !slices.Contains(s.CompletedTaskIDs, id) {
		s.FailedTaskIDs = slices.DeleteFunc(s.FailedTaskIDs, func(v string) bool { return v == id })
		s.SkippedTaskIDs = slices.DeleteFunc(s.SkippedTaskIDs, func(v string) bool { return v == id })
		s.CompletedTaskIDs = append(s.CompletedTaskIDs, id)
		s.clearCurrent(id)
	}
	if id := u.FailedID; id != "" && !s.Settled(id) {
		s.FailedTaskIDs = append(s.FailedTaskIDs, id)
		s.clearCurrent(id)
	}
	if id := u.SkippedID; id != "" && !s.Settled(id) {
		s.SkippedTaskIDs = append(s.SkippedTaskIDs, id)
		s.clearCurrent(id)
	}
	s.LastActive = now
	return nil
}

func (s *Session) clearCurrent(id string) {
	if s.CurrentTaskID == id {
		s.CurrentTaskID = ""
	}
}

// Settled reports whether id is in any of the three progress sets.
func (s *Session) Settled(id string) bool {
	return slices.Contains(s.CompletedTaskIDs, id) ||
		slices.Contains(s.FailedTaskIDs, id) ||
		slices.Contains(s.SkippedTaskIDs, id)
}

// NextCheckpointID reserves the next checkpoint id for this session.
func (s *Session) NextCheckpointID() string {
	s.CheckpointCounter++
	return CheckpointID(s.ID, s.CheckpointCounter)
}

// AddCheckpoint appends a checkpoint id and marks it as the latest.
func (s *Session) AddCheckpoint(id string, now time.Time) {
	s.CheckpointIDs = append(s.CheckpointIDs, id)
	s.LastCheckpointID = id
	s.LastActive = now
}

// Snapshot captures the current progress.
func (s *Session) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		CurrentTaskID:    s.CurrentTaskID,
		CompletedTaskIDs: slices.Clone(s.CompletedTaskIDs),
		FailedTaskIDs:    slices.Clone(s.FailedTaskIDs),
		SkippedTaskIDs:   slices.Clone(s.SkippedTaskIDs),
		TasksTotal:       s.TasksTotal,
		CompletedCount:   len(s.CompletedTaskIDs),
		FailedCount:      len(s.FailedTaskIDs),
		SkippedCount:     len(s.SkippedTaskIDs),
	}
}

// RestoreFrom rolls progress back to cp and leaves the session paused.
// Completed, cancelled and running sessions cannot be restored.
func (s *Session) RestoreFrom(cp *Checkpoint, now time.Time) error {
	switch s.Status {
	case SessionCompleted, SessionCancelled, SessionRunning:
		return &ConflictError{ID: s.ID, Reason: fmt.Sprintf("cannot restore %s session", s.Status)}
	}
	if cp.SessionID != s.ID {
		return &ConflictError{ID: cp.ID, Reason: fmt.Sprintf("checkpoint belongs to session %s", cp.SessionID)}
	}
	snap := cp.Progress
	s.CurrentTaskID = snap.CurrentTaskID
	s.CompletedTaskIDs = nonNil(slices.Clone(snap.CompletedTaskIDs))
	s.FailedTaskIDs = nonNil(slices.Clone(snap.FailedTaskIDs))
	s.SkippedTaskIDs = nonNil(slices.Clone(snap.SkippedTaskIDs))
	s.Status = SessionPaused
	s.Error = ""
	s.LastCheckpointID = cp.ID
	s.LastActive = now
	return nil
}

// CompletionPercent returns completed/total as a percentage rounded to two decimals.
func (s *Session) CompletionPercent() float64 {
	if s.TasksTotal <= 0 {
		return 0
	}
	pct := float64(len(s.CompletedTaskIDs)) / float64(s.TasksTotal) * 100
	return math.Round(pct*100) / 100
}

// CanResume reports whether the session may be resumed.
func (s *Session) CanResume() bool {
	return s.Status.IsResumable()
}

// InScope reports whether taskID belongs to the session's fixed scope.
// A session without a fixed scope covers every task.
func (s *Session) InScope(taskID string) bool {
	return len(s.TaskIDs) == 0 || slices.Contains(s.TaskIDs, taskID)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
