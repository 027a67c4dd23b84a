package domain

import (
	"fmt"
	"maps"
	"time"
)

// ProgressSnapshot is a frozen copy of a session's progress.
type ProgressSnapshot struct {
	CurrentTaskID    string   `json:"current_task_id,omitempty" yaml:"current_task_id,omitempty"`
	CompletedTaskIDs []string `json:"completed_task_ids" yaml:"completed_task_ids"`
	FailedTaskIDs    []string `json:"failed_task_ids" yaml:"failed_task_ids"`
	SkippedTaskIDs   []string `json:"skipped_task_ids" yaml:"skipped_task_ids"`
	TasksTotal       int      `json:"tasks_total" yaml:"tasks_total"`
	CompletedCount   int      `json:"completed_count" yaml:"completed_count"`
	FailedCount      int      `json:"failed_count" yaml:"failed_count"`
	SkippedCount     int      `json:"skipped_count" yaml:"skipped_count"`
}

// Checkpoint is an immutable snapshot of a session.
// Fields are ordered to minimize memory padding.
type Checkpoint struct {
	CreatedAt time.Time        `json:"created_at" yaml:"created_at"`
	Context   map[string]any   `json:"context,omitempty" yaml:"context,omitempty"`
	ID        string           `json:"checkpoint_id" yaml:"checkpoint_id"`
	SessionID string           `json:"session_id" yaml:"session_id"`
	ProjectID string           `json:"project_id" yaml:"project_id"`
	Progress  ProgressSnapshot `json:"progress" yaml:"progress"`
}

// CheckpointID formats the id of the seq-th checkpoint of a session.
func CheckpointID(sessionID string, seq int) string {
	return fmt.Sprintf("%s-ckpt-%04d", sessionID, seq)
}

// NewCheckpoint snapshots s with an opaque context payload.
func NewCheckpoint(id string, s *Session, context map[string]any, now time.Time) *Checkpoint {
	return &Checkpoint{
		ID:        id,
		SessionID: s.ID,
		ProjectID: s.ProjectID,
		CreatedAt: now,
		Progress:  s.Snapshot(),
		Context:   maps.Clone(context),
	}
}
