package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// ReconcileSessionInput contains the parameters for reconciling a session.
type ReconcileSessionInput struct {
	SessionID string
	DryRun    bool // Report corrections without saving them
}

// ReconcileSessionOutput contains the reconciled session and the corrections.
type ReconcileSessionOutput struct {
	Session     *domain.Session
	Corrections []domain.ProgressCorrection
}

// ReconcileSession is the use case for re-deriving a session's progress sets
// from the task store, which wins every disagreement.
type ReconcileSession struct {
	tasks    domain.TaskRepository
	sessions domain.SessionRepository
	locker   domain.Locker
	clock    domain.Clock
	logger   domain.Logger
}

// NewReconcileSession creates a new ReconcileSession use case.
func NewReconcileSession(tasks domain.TaskRepository, sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *ReconcileSession {
	return &ReconcileSession{tasks: tasks, sessions: sessions, locker: locker, clock: clock, logger: logger}
}

// Execute reconciles the session. The scope is the session's task_ids when
// set; otherwise every task already in a progress set plus the tasks started
// or settled since the session was created.
func (uc *ReconcileSession) Execute(ctx context.Context, in ReconcileSessionInput) (*ReconcileSessionOutput, error) {
	found, err := shared.GetSession(uc.sessions, in.SessionID)
	if err != nil {
		return nil, err
	}

	out := &ReconcileSessionOutput{}
	err = shared.WithProjectLock(ctx, uc.locker, found.ProjectID, func() error {
		s, err := shared.GetSession(uc.sessions, in.SessionID)
		if err != nil {
			return err
		}
		tasks, err := uc.tasks.List(s.ProjectID, domain.TaskFilter{})
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		statuses := make(map[string]domain.Status)
		var order []string
		for _, t := range tasks {
			if !reconcileScope(s, t) {
				continue
			}
			statuses[t.ID] = t.Status
			order = append(order, t.ID)
		}

		target := s
		if in.DryRun {
			target = s.Clone()
		}
		corrections, err := target.Reconcile(statuses, order, uc.clock.Now())
		if err != nil {
			return err
		}
		out.Session = target
		out.Corrections = corrections
		if in.DryRun || len(corrections) == 0 {
			return nil
		}
		if err := uc.sessions.Save(target); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil && !in.DryRun {
		for _, c := range out.Corrections {
			uc.logger.Warn(out.Session.ProjectID, "reconcile", fmt.Sprintf("%s: %s", out.Session.ID, c))
		}
	}
	return out, nil
}

func reconcileScope(s *domain.Session, t *domain.Task) bool {
	if len(s.TaskIDs) > 0 {
		return slices.Contains(s.TaskIDs, t.ID)
	}
	if s.Settled(t.ID) || s.CurrentTaskID == t.ID {
		return true
	}
	if !t.StartedAt.IsZero() && !t.StartedAt.Before(s.CreatedAt) {
		return true
	}
	return t.Status.IsTerminal() && !t.UpdatedAt.Before(s.CreatedAt)
}
