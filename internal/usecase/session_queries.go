package usecase

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// ListSessionsInput contains the parameters for listing sessions.
type ListSessionsInput struct {
	ProjectID string
	Statuses  []string // Filter by status (empty = all)
}

// ListSessionsOutput contains a project's sessions, most recently active first.
type ListSessionsOutput struct {
	Sessions []*domain.Session
}

// ListSessions is the use case for listing a project's sessions.
type ListSessions struct {
	sessions domain.SessionRepository
}

// NewListSessions creates a new ListSessions use case.
func NewListSessions(sessions domain.SessionRepository) *ListSessions {
	return &ListSessions{sessions: sessions}
}

// Execute lists sessions.
func (uc *ListSessions) Execute(_ context.Context, in ListSessionsInput) (*ListSessionsOutput, error) {
	if in.ProjectID == "" {
		return nil, domain.ErrEmptyProjectID
	}
	var statuses []domain.SessionStatus
	for _, s := range in.Statuses {
		st := domain.SessionStatus(s)
		if !st.IsValid() {
			return nil, fmt.Errorf("session status %q: %w", s, domain.ErrInvalidStatus)
		}
		statuses = append(statuses, st)
	}

	all, err := uc.sessions.ListByProject(in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(statuses) > 0 {
		all = slices.DeleteFunc(all, func(s *domain.Session) bool {
			return !slices.Contains(statuses, s.Status)
		})
	}
	return &ListSessionsOutput{Sessions: all}, nil
}

// ShowSessionInput contains the parameters for showing a session.
type ShowSessionInput struct {
	SessionID string
}

// ShowSessionOutput contains a session and its checkpoints.
type ShowSessionOutput struct {
	Session     *domain.Session
	Checkpoints []*domain.Checkpoint
}

// ShowSession is the use case for displaying a session.
type ShowSession struct {
	sessions    domain.SessionRepository
	checkpoints domain.CheckpointRepository
}

// NewShowSession creates a new ShowSession use case.
func NewShowSession(sessions domain.SessionRepository, checkpoints domain.CheckpointRepository) *ShowSession {
	return &ShowSession{sessions: sessions, checkpoints: checkpoints}
}

// Execute returns the session with its checkpoints.
func (uc *ShowSession) Execute(_ context.Context, in ShowSessionInput) (*ShowSessionOutput, error) {
	s, err := shared.GetSession(uc.sessions, in.SessionID)
	if err != nil {
		return nil, err
	}
	cps, err := uc.checkpoints.ListBySession(s.ID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return &ShowSessionOutput{Session: s, Checkpoints: cps}, nil
}

// FindResumableInput contains the parameters for finding a resumable session.
type FindResumableInput struct {
	ProjectID string
}

// FindResumableOutput contains the resumable session, if any.
type FindResumableOutput struct {
	Session *domain.Session // nil if no paused or failed session exists
}

// FindResumable is the use case for locating the session to continue.
type FindResumable struct {
	sessions domain.SessionRepository
}

// NewFindResumable creates a new FindResumable use case.
func NewFindResumable(sessions domain.SessionRepository) *FindResumable {
	return &FindResumable{sessions: sessions}
}

// Execute returns the paused or failed session with the latest last_active.
func (uc *FindResumable) Execute(_ context.Context, in FindResumableInput) (*FindResumableOutput, error) {
	if in.ProjectID == "" {
		return nil, domain.ErrEmptyProjectID
	}
	all, err := uc.sessions.ListByProject(in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var best *domain.Session
	for _, s := range all {
		if s.CanResume() && (best == nil || s.LastActive.After(best.LastActive)) {
			best = s
		}
	}
	return &FindResumableOutput{Session: best}, nil
}

// SessionStatsInput contains the parameters for session statistics.
type SessionStatsInput struct {
	SessionID string
}

// SessionStatsOutput contains a session's progress statistics.
// Fields are ordered to minimize memory padding.
type SessionStatsOutput struct {
	Session           *domain.Session
	Elapsed           time.Duration // Since first start; until completion for finished sessions
	Idle              time.Duration // Since last activity
	CompletionPercent float64       // completed / tasks_total, two decimals
	Completed         int
	Failed            int
	Skipped           int
	Remaining         int // tasks_total minus settled tasks, never negative
	CheckpointCount   int
	CanResume         bool
}

// SessionStats is the use case for summarizing a session's progress.
type SessionStats struct {
	sessions domain.SessionRepository
	clock    domain.Clock
}

// NewSessionStats creates a new SessionStats use case.
func NewSessionStats(sessions domain.SessionRepository, clock domain.Clock) *SessionStats {
	return &SessionStats{sessions: sessions, clock: clock}
}

// Execute computes the statistics.
func (uc *SessionStats) Execute(_ context.Context, in SessionStatsInput) (*SessionStatsOutput, error) {
	s, err := shared.GetSession(uc.sessions, in.SessionID)
	if err != nil {
		return nil, err
	}
	now := uc.clock.Now()
	out := &SessionStatsOutput{
		Session:           s,
		CompletionPercent: s.CompletionPercent(),
		Completed:         len(s.CompletedTaskIDs),
		Failed:            len(s.FailedTaskIDs),
		Skipped:           len(s.SkippedTaskIDs),
		CheckpointCount:   len(s.CheckpointIDs),
		CanResume:         s.CanResume(),
		Idle:              max(now.Sub(s.LastActive), 0),
	}
	out.Remaining = max(s.TasksTotal-out.Completed-out.Failed-out.Skipped, 0)
	if !s.StartedAt.IsZero() {
		end := now
		if !s.CompletedAt.IsZero() {
			end = s.CompletedAt
		}
		out.Elapsed = max(end.Sub(s.StartedAt), 0)
	}
	return out, nil
}
