package tui

import (
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/runoshun/crewstate/internal/usecase"
)

// Msg is the sealed interface for all dashboard messages.
//
// go-sumtype:decl Msg
type Msg interface {
	sealed()
}

// MsgSnapshotLoaded is sent when sessions and task stats have been read from the store.
type MsgSnapshotLoaded struct {
	LoadedAt time.Time
	Stats    *usecase.TaskStatsOutput
	Sessions []*domain.Session
}

func (MsgSnapshotLoaded) sealed() {}

// MsgTick is sent when the refresh interval elapses.
type MsgTick struct {
	At time.Time
}

func (MsgTick) sealed() {}

// MsgError is sent when loading fails.
type MsgError struct {
	Err error
}

func (MsgError) sealed() {}
