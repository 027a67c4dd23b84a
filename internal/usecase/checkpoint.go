package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// maxCheckpointIDTries bounds the search for a free checkpoint id after a
// crash left a checkpoint without its session update.
const maxCheckpointIDTries = 16

// CreateCheckpointInput contains the parameters for creating a checkpoint.
type CreateCheckpointInput struct {
	Context   map[string]any // Opaque caller context stored with the snapshot
	SessionID string
}

// CreateCheckpointOutput contains the created checkpoint.
type CreateCheckpointOutput struct {
	Checkpoint *domain.Checkpoint
	Session    *domain.Session
}

// CreateCheckpoint is the use case for snapshotting a session's progress.
type CreateCheckpoint struct {
	checkpoints domain.CheckpointRepository
	m           sessionMutator
}

// NewCreateCheckpoint creates a new CreateCheckpoint use case.
func NewCreateCheckpoint(sessions domain.SessionRepository, checkpoints domain.CheckpointRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *CreateCheckpoint {
	return &CreateCheckpoint{checkpoints: checkpoints, m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute stores an immutable snapshot of the session's progress and
// records it as the session's latest checkpoint.
func (uc *CreateCheckpoint) Execute(ctx context.Context, in CreateCheckpointInput) (*CreateCheckpointOutput, error) {
	var cp *domain.Checkpoint
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		now := uc.m.clock.Now()
		for range maxCheckpointIDTries {
			candidate := domain.NewCheckpoint(s.NextCheckpointID(), s, in.Context, now)
			err := uc.checkpoints.Create(candidate)
			if errors.Is(err, domain.ErrCheckpointExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("create checkpoint: %w", err)
			}
			cp = candidate
			s.AddCheckpoint(cp.ID, now)
			return nil
		}
		return fmt.Errorf("create checkpoint: %w after %d ids", domain.ErrCheckpointExists, maxCheckpointIDTries)
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(s, fmt.Sprintf("checkpoint %s (%d completed, %d failed, %d skipped)",
		cp.ID, cp.Progress.CompletedCount, cp.Progress.FailedCount, cp.Progress.SkippedCount))
	return &CreateCheckpointOutput{Checkpoint: cp, Session: s}, nil
}

// RestoreCheckpointInput contains the parameters for restoring a checkpoint.
type RestoreCheckpointInput struct {
	CheckpointID string
}

// RestoreCheckpointOutput contains the restored session.
type RestoreCheckpointOutput struct {
	Session    *domain.Session
	Checkpoint *domain.Checkpoint
}

// RestoreCheckpoint is the use case for rolling a session back to a checkpoint.
type RestoreCheckpoint struct {
	checkpoints domain.CheckpointRepository
	m           sessionMutator
}

// NewRestoreCheckpoint creates a new RestoreCheckpoint use case.
func NewRestoreCheckpoint(sessions domain.SessionRepository, checkpoints domain.CheckpointRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *RestoreCheckpoint {
	return &RestoreCheckpoint{checkpoints: checkpoints, m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute replaces the session's progress with the checkpoint snapshot and
// leaves the session paused. Completed, cancelled and running sessions
// cannot be restored.
func (uc *RestoreCheckpoint) Execute(ctx context.Context, in RestoreCheckpointInput) (*RestoreCheckpointOutput, error) {
	cp, err := shared.GetCheckpoint(uc.checkpoints, in.CheckpointID)
	if err != nil {
		return nil, err
	}
	s, err := uc.m.mutate(ctx, cp.SessionID, func(s *domain.Session) error {
		return s.RestoreFrom(cp, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	if uc.m.logger != nil {
		uc.m.logger.Warn(s.ProjectID, "session", fmt.Sprintf("%s restored to %s", s.ID, cp.ID))
	}
	return &RestoreCheckpointOutput{Session: s, Checkpoint: cp}, nil
}

// ListCheckpointsInput contains the parameters for listing checkpoints.
type ListCheckpointsInput struct {
	SessionID string
}

// ListCheckpointsOutput contains a session's checkpoints in creation order.
type ListCheckpointsOutput struct {
	Checkpoints []*domain.Checkpoint
}

// ListCheckpoints is the use case for listing a session's checkpoints.
type ListCheckpoints struct {
	sessions    domain.SessionRepository
	checkpoints domain.CheckpointRepository
}

// NewListCheckpoints creates a new ListCheckpoints use case.
func NewListCheckpoints(sessions domain.SessionRepository, checkpoints domain.CheckpointRepository) *ListCheckpoints {
	return &ListCheckpoints{sessions: sessions, checkpoints: checkpoints}
}

// Execute lists the checkpoints of an existing session.
func (uc *ListCheckpoints) Execute(_ context.Context, in ListCheckpointsInput) (*ListCheckpointsOutput, error) {
	if _, err := shared.GetSession(uc.sessions, in.SessionID); err != nil {
		return nil, err
	}
	cps, err := uc.checkpoints.ListBySession(in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return &ListCheckpointsOutput{Checkpoints: cps}, nil
}
