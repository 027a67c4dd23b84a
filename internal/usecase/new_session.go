package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase/shared"
)

// NewSessionInput contains the parameters for creating a session.
// Fields are ordered to minimize memory padding.
type NewSessionInput struct {
	ProjectID   string   // Owning project (required)
	Name        string   // Session name (required)
	Description string   // Description (optional)
	TaskIDs     []string // Fixed task scope (empty = all project tasks)
	TasksTotal  *int     // Planned task count (nil = derived from scope)
}

// NewSessionOutput contains the created session.
type NewSessionOutput struct {
	Session *domain.Session
}

// NewSession is the use case for creating a session.
type NewSession struct {
	sessions  domain.SessionRepository
	tasks     domain.TaskRepository
	locker    domain.Locker
	clock     domain.Clock
	logger    domain.Logger
	newSuffix func() string
}

// NewNewSession creates a new NewSession use case.
func NewNewSession(sessions domain.SessionRepository, tasks domain.TaskRepository, locker domain.Locker, clock domain.Clock, logger domain.Logger) *NewSession {
	return &NewSession{
		sessions:  sessions,
		tasks:     tasks,
		locker:    locker,
		clock:     clock,
		logger:    logger,
		newSuffix: uuid.NewString,
	}
}

// Execute creates a session in the created state.
// Without an explicit total, the total is the scope size, or the number of
// unfinished project tasks when the session covers the whole project.
func (uc *NewSession) Execute(ctx context.Context, in NewSessionInput) (*NewSessionOutput, error) {
	if in.ProjectID == "" {
		return nil, domain.ErrEmptyProjectID
	}
	if !domain.ValidateID(in.ProjectID) {
		return nil, fmt.Errorf("project %q: %w", in.ProjectID, domain.ErrInvalidID)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.ErrEmptySessionName
	}
	if in.TasksTotal != nil && *in.TasksTotal < 0 {
		return nil, fmt.Errorf("tasks total must not be negative: %d", *in.TasksTotal)
	}
	scope := dedupe(in.TaskIDs)
	for _, id := range scope {
		if !domain.ValidateID(id) {
			return nil, fmt.Errorf("task %q: %w", id, domain.ErrInvalidID)
		}
	}

	var session *domain.Session
	err := shared.WithProjectLock(ctx, uc.locker, in.ProjectID, func() error {
		var total int
		switch {
		case in.TasksTotal != nil:
			total = *in.TasksTotal
		case len(scope) > 0:
			total = len(scope)
		default:
			tasks, err := uc.tasks.List(in.ProjectID, domain.TaskFilter{})
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			for _, t := range tasks {
				if !t.Status.IsTerminal() {
					total++
				}
			}
		}

		now := uc.clock.Now()
		id := domain.NewSessionID(in.ProjectID, now, strings.ReplaceAll(uc.newSuffix(), "-", ""))
		existing, err := uc.sessions.Get(id)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		if existing != nil {
			return &domain.ConflictError{ID: id, Reason: "session id already exists"}
		}

		session = domain.NewSession(id, in.ProjectID, name, in.Description, total, scope, now)
		if err := uc.sessions.Save(session); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if uc.logger != nil {
		uc.logger.Info(in.ProjectID, "session", fmt.Sprintf("created %s (%q, %d tasks)", session.ID, session.Name, session.TasksTotal))
	}
	return &NewSessionOutput{Session: session}, nil
}
