package domain

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"   // Created, waiting for dependencies or a worker
	StatusRunning   Status = "running"   // Attempt in progress
	StatusCompleted Status = "completed" // Finished with a result
	StatusFailed    Status = "failed"    // Attempts exhausted or unrecoverable error
	StatusRetrying  Status = "retrying"  // Failed attempt, eligible for another one
	StatusBlocked   Status = "blocked"   // Explicitly blocked by the operator or driver
	StatusSkipped   Status = "skipped"   // Explicitly skipped
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusRunning,
		StatusCompleted,
		StatusFailed,
		StatusRetrying,
		StatusBlocked,
		StatusSkipped,
	}
}

// transitions defines the allowed status transitions.
// Flow: pending → running → completed
//
//	        ↑        ↓
//	     retrying ←──┘ (recoverable failure)
//
// pending, running and retrying may also move to blocked or skipped.
var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusBlocked, StatusSkipped},
	StatusRunning:   {StatusCompleted, StatusRetrying, StatusFailed, StatusBlocked, StatusSkipped},
	StatusRetrying:  {StatusRunning, StatusBlocked, StatusSkipped},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusBlocked:   {},
	StatusSkipped:   {},
}

// CanTransitionTo returns true if the status can transition to the target status.
func (s Status) CanTransitionTo(target Status) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBlocked, StatusSkipped:
		return true
	default:
		return false
	}
}

// CanStart returns true if a task in this status can be started.
func (s Status) CanStart() bool {
	return s == StatusPending || s == StatusRetrying
}

// Display returns a human-readable representation of the status.
func (s Status) Display() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusRetrying:
		return "Retrying"
	case StatusBlocked:
		return "Blocked"
	case StatusSkipped:
		return "Skipped"
	default:
		return string(s)
	}
}

// IsValid returns true if the status is a known valid value.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// SessionStatus represents the lifecycle state of an execution session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// AllSessionStatuses returns all valid session status values.
func AllSessionStatuses() []SessionStatus {
	return []SessionStatus{
		SessionCreated,
		SessionRunning,
		SessionPaused,
		SessionCompleted,
		SessionFailed,
		SessionCancelled,
	}
}

// sessionTransitions defines the allowed session status transitions.
// failed is resumable, so it is not terminal; only cancel leaves it for good.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionCreated:   {SessionRunning, SessionFailed, SessionCancelled},
	SessionRunning:   {SessionPaused, SessionCompleted, SessionFailed, SessionCancelled},
	SessionPaused:    {SessionRunning, SessionCompleted, SessionFailed, SessionCancelled},
	SessionFailed:    {SessionRunning, SessionCancelled},
	SessionCompleted: {},
	SessionCancelled: {},
}

// CanTransitionTo returns true if the session status can transition to the target status.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	for _, t := range sessionTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completed and cancelled sessions.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// IsResumable returns true if a session in this status may be resumed.
func (s SessionStatus) IsResumable() bool {
	return s == SessionPaused || s == SessionFailed
}

// IsValid returns true if the session status is a known valid value.
func (s SessionStatus) IsValid() bool {
	_, ok := sessionTransitions[s]
	return ok
}

// Display returns a human-readable representation of the session status.
func (s SessionStatus) Display() string {
	switch s {
	case SessionCreated:
		return "Created"
	case SessionRunning:
		return "Running"
	case SessionPaused:
		return "Paused"
	case SessionCompleted:
		return "Completed"
	case SessionFailed:
		return "Failed"
	case SessionCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
