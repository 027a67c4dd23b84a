// Package shared provides shared utilities for use cases.
package shared

import (
	"fmt"

	"github.com/runoshun/crewstate/internal/domain"
)

// GetTask retrieves a task and returns a *domain.NotFoundError if it is missing.
// This centralizes the common pattern of:
//
//	task, err := repo.Get(projectID, taskID)
//	if err != nil { return nil, fmt.Errorf("get task: %w", err) }
//	if task == nil { return nil, &domain.NotFoundError{...} }
func GetTask(repo domain.TaskRepository, projectID, taskID string) (*domain.Task, error) {
	task, err := repo.Get(projectID, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, &domain.NotFoundError{Kind: "task", ID: projectID + "/" + taskID}
	}
	return task, nil
}

// GetSession retrieves a session and returns a *domain.NotFoundError if it is missing.
func GetSession(repo domain.SessionRepository, sessionID string) (*domain.Session, error) {
	session, err := repo.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	return session, nil
}

// GetCheckpoint retrieves a checkpoint and returns a *domain.NotFoundError if it is missing.
func GetCheckpoint(repo domain.CheckpointRepository, checkpointID string) (*domain.Checkpoint, error) {
	cp, err := repo.Get(checkpointID)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	if cp == nil {
		return nil, &domain.NotFoundError{Kind: "checkpoint", ID: checkpointID}
	}
	return cp, nil
}
