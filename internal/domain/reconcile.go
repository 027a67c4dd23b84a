package domain

import (
	"fmt"
	"slices"
	"time"
)

// Progress set names used in reconciliation reports.
const (
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
	ProgressSkipped   = "skipped"
	ProgressCurrent   = "current"
)

// ProgressCorrection is one change applied by Session.Reconcile.
// An empty From or To means the id was, or now is, in no progress set.
type ProgressCorrection struct {
	TaskID string
	From   string
	To     string
}

func (c ProgressCorrection) String() string {
	from, to := c.From, c.To
	if from == "" {
		from = "-"
	}
	if to == "" {
		to = "-"
	}
	return fmt.Sprintf("%s: %s -> %s", c.TaskID, from, to)
}

// ProgressSetFor returns the progress set a task with status st belongs to.
// Blocked tasks count as skipped. Non-terminal tasks belong to no set.
func ProgressSetFor(st Status) string {
	switch st {
	case StatusCompleted:
		return ProgressCompleted
	case StatusFailed:
		return ProgressFailed
	case StatusSkipped, StatusBlocked:
		return ProgressSkipped
	default:
		return ""
	}
}

func (s *Session) progressSetOf(id string) string {
	switch {
	case slices.Contains(s.CompletedTaskIDs, id):
		return ProgressCompleted
	case slices.Contains(s.FailedTaskIDs, id):
		return ProgressFailed
	case slices.Contains(s.SkippedTaskIDs, id):
		return ProgressSkipped
	default:
		return ""
	}
}

// Reconcile rebuilds the progress sets from authoritative task statuses.
// statuses covers the tasks in scope; order lists them in creation order and
// decides where missing ids are appended. Ids in a set without an entry in
// statuses are dropped. Existing entries keep their position.
func (s *Session) Reconcile(statuses map[string]Status, order []string, now time.Time) ([]ProgressCorrection, error) {
	if s.Status.IsTerminal() {
		return nil, &ConflictError{ID: s.ID, Reason: fmt.Sprintf("cannot reconcile %s session", s.Status)}
	}
	want := func(id string) string {
		st, ok := statuses[id]
		if !ok {
			return ""
		}
		return ProgressSetFor(st)
	}

	var corrections []ProgressCorrection
	before := make(map[string]string)
	sets := map[string][]string{
		ProgressCompleted: {},
		ProgressFailed:    {},
		ProgressSkipped:   {},
	}
	for _, set := range []string{ProgressCompleted, ProgressFailed, ProgressSkipped} {
		var ids []string
		switch set {
		case ProgressCompleted:
			ids = s.CompletedTaskIDs
		case ProgressFailed:
			ids = s.FailedTaskIDs
		default:
			ids = s.SkippedTaskIDs
		}
		for _, id := range ids {
			if before[id] == "" {
				before[id] = set
			}
			if w := want(id); w == set && !slices.Contains(sets[set], id) {
				sets[set] = append(sets[set], id)
			} else {
				corrections = append(corrections, ProgressCorrection{TaskID: id, From: set, To: w})
			}
		}
	}

	for _, id := range order {
		w := want(id)
		if w == "" || slices.Contains(sets[w], id) {
			continue
		}
		sets[w] = append(sets[w], id)
		if before[id] == "" {
			corrections = append(corrections, ProgressCorrection{TaskID: id, To: w})
		}
	}

	if cur := s.CurrentTaskID; cur != "" && statuses[cur] != StatusRunning {
		corrections = append(corrections, ProgressCorrection{TaskID: cur, From: ProgressCurrent})
		s.CurrentTaskID = ""
	}

	s.CompletedTaskIDs = sets[ProgressCompleted]
	s.FailedTaskIDs = sets[ProgressFailed]
	s.SkippedTaskIDs = sets[ProgressSkipped]
	if len(corrections) > 0 {
		s.LastActive = now
	}
	return corrections, nil
}
