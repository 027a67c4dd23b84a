package usecase

import (
	"context"
	"fmt"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// sessionMutator applies a locked read-modify-write to one session.
type sessionMutator struct {
	sessions domain.SessionRepository
	locker   domain.Locker
	clock    domain.Clock
	logger   domain.Logger
}

func newSessionMutator(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) sessionMutator {
	return sessionMutator{sessions: sessions, locker: locker, clock: clock, logger: logger}
}

// mutate loads the session, applies fn and saves the result under the
// owning project's lock.
func (m sessionMutator) mutate(ctx context.Context, sessionID string, fn func(s *domain.Session) error) (*domain.Session, error) {
	if sessionID == "" {
		return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	found, err := shared.GetSession(m.sessions, sessionID)
	if err != nil {
		return nil, err
	}

	var session *domain.Session
	err = shared.WithProjectLock(ctx, m.locker, found.ProjectID, func() error {
		s, err := shared.GetSession(m.sessions, sessionID)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		if err := m.sessions.Save(s); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		session = s
		return nil
	})
	return session, err
}

// ensureNoneRunning fails if another session of s's project is running.
// Callers hold the project lock.
func (m sessionMutator) ensureNoneRunning(s *domain.Session) error {
	others, err := m.sessions.ListByProject(s.ProjectID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, o := range others {
		if o.ID != s.ID && o.Status == domain.SessionRunning {
			return &domain.ConflictError{
				Err:    domain.ErrSessionRunning,
				ID:     s.ID,
				Reason: fmt.Sprintf("session %s is already running for project %s", o.ID, s.ProjectID),
			}
		}
	}
	return nil
}

func (m sessionMutator) log(s *domain.Session, msg string) {
	if m.logger != nil {
		m.logger.Info(s.ProjectID, "session", fmt.Sprintf("%s %s", s.ID, msg))
	}
}

// SessionInput identifies a session for the simple lifecycle use cases.
type SessionInput struct {
	SessionID string
}

// SessionOutput contains the session after a lifecycle change.
type SessionOutput struct {
	Session *domain.Session
}

// StartSession is the use case for moving a created session to running.
type StartSession struct {
	m sessionMutator
}

// NewStartSession creates a new StartSession use case.
func NewStartSession(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *StartSession {
	return &StartSession{m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute starts the session. At most one session per project may run.
func (uc *StartSession) Execute(ctx context.Context, in SessionInput) (*SessionOutput, error) {
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		if s.Status == domain.SessionCreated {
			if err := uc.m.ensureNoneRunning(s); err != nil {
				return err
			}
		}
		return s.Start(uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(s, "started")
	return &SessionOutput{Session: s}, nil
}

// ResumeSession is the use case for moving a paused or failed session back to running.
type ResumeSession struct {
	m sessionMutator
}

// NewResumeSession creates a new ResumeSession use case.
func NewResumeSession(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *ResumeSession {
	return &ResumeSession{m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute resumes the session. At most one session per project may run.
func (uc *ResumeSession) Execute(ctx context.Context, in SessionInput) (*SessionOutput, error) {
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		if s.CanResume() {
			if err := uc.m.ensureNoneRunning(s); err != nil {
				return err
			}
		}
		return s.Resume(uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(s, "resumed")
	return &SessionOutput{Session: s}, nil
}

// PauseSession is the use case for pausing a running session.
type PauseSession struct {
	m sessionMutator
}

// NewPauseSession creates a new PauseSession use case.
func NewPauseSession(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *PauseSession {
	return &PauseSession{m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute pauses the session.
func (uc *PauseSession) Execute(ctx context.Context, in SessionInput) (*SessionOutput, error) {
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		return s.Pause(uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(s, "paused")
	return &SessionOutput{Session: s}, nil
}

// CompleteSessionInput contains the parameters for completing a session.
type CompleteSessionInput struct {
	Result    map[string]any
	SessionID string
}

// CompleteSession is the use case for completing a running or paused session.
type CompleteSession struct {
	m sessionMutator
}

// NewCompleteSession creates a new CompleteSession use case.
func NewCompleteSession(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *CompleteSession {
	return &CompleteSession{m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute completes the session and stores its result.
func (uc *CompleteSession) Execute(ctx context.Context, in CompleteSessionInput) (*SessionOutput, error) {
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		return s.Complete(in.Result, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(s, fmt.Sprintf("completed (%d/%d tasks)", len(s.CompletedTaskIDs), s.TasksTotal))
	return &SessionOutput{Session: s}, nil
}

// FailSessionInput contains the parameters for failing a session.
type FailSessionInput struct {
	SessionID string
	Message   string
}

// FailSession is the use case for marking a session failed.
type FailSession struct {
	m sessionMutator
}

// NewFailSession creates a new FailSession use case.
func NewFailSession(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *FailSession {
	return &FailSession{m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute fails the session. A failed session can still be resumed.
func (uc *FailSession) Execute(ctx context.Context, in FailSessionInput) (*SessionOutput, error) {
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		return s.Fail(in.Message, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	if uc.m.logger != nil {
		uc.m.logger.Error(s.ProjectID, "session", fmt.Sprintf("%s failed: %s", s.ID, in.Message))
	}
	return &SessionOutput{Session: s}, nil
}

// CancelSessionInput contains the parameters for cancelling a session.
type CancelSessionInput struct {
	SessionID string
	Reason    string
}

// CancelSession is the use case for cancelling a session.
type CancelSession struct {
	m sessionMutator
}

// NewCancelSession creates a new CancelSession use case.
func NewCancelSession(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *CancelSession {
	return &CancelSession{m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute cancels the session. A running driver stops before its next task.
func (uc *CancelSession) Execute(ctx context.Context, in CancelSessionInput) (*SessionOutput, error) {
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		return s.Cancel(in.Reason, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	uc.m.log(s, "cancelled: "+in.Reason)
	return &SessionOutput{Session: s}, nil
}

// RecordProgressInput contains the parameters for recording session progress.
type RecordProgressInput struct {
	SessionID string
	Update    domain.ProgressUpdate
}

// RecordProgress is the use case for adding task ids to a session's progress sets.
type RecordProgress struct {
	m sessionMutator
}

// NewRecordProgress creates a new RecordProgress use case.
func NewRecordProgress(sessions domain.SessionRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *RecordProgress {
	return &RecordProgress{m: newSessionMutator(sessions, locker, clock, logger)}
}

// Execute records the update. Concurrent updates to the same session are
// serialized, so none is lost.
func (uc *RecordProgress) Execute(ctx context.Context, in RecordProgressInput) (*SessionOutput, error) {
	s, err := uc.m.mutate(ctx, in.SessionID, func(s *domain.Session) error {
		return s.RecordProgress(in.Update, uc.m.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	if uc.m.logger != nil {
		uc.m.logger.Debug(s.ProjectID, "session", fmt.Sprintf("%s progress %d/%d", s.ID, len(s.CompletedTaskIDs), s.TasksTotal))
	}
	return &SessionOutput{Session: s}, nil
}
