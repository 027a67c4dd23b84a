package shared

import (
	"context"
	"fmt"

	"github.com/runoshun/crewstate/internal/domain"
)

// WithProjectLock runs fn while holding the project's lock.
// Every read-validate-write cycle on a project's tasks or sessions goes through here.
func WithProjectLock(ctx context.Context, locker domain.Locker, projectID string, fn func() error) error {
	unlock, err := locker.Lock(ctx, domain.ProjectLockKey(projectID))
	if err != nil {
		return fmt.Errorf("lock project %s: %w", projectID, err)
	}
	defer unlock()
	return fn()
}
