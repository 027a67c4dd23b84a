// Package lockfile provides a cross-process domain.Locker based on flock(2).
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// Ensure Locker implements domain.Locker.
var _ domain.Locker = (*Locker)(nil)

// DefaultPollInterval is how often a contended lock is retried.
const DefaultPollInterval = 20 * time.Millisecond

// Locker holds exclusive flock locks on files under <stateDir>/locks.
// flock is per open file description, so an in-process mutex per key
// serializes goroutines of the same process as well.
type Locker struct {
	local    map[string]*sync.Mutex
	stateDir string
	poll     time.Duration
	mu       sync.Mutex
}

// New creates a Locker rooted at stateDir.
func New(stateDir string) *Locker {
	return &Locker{
		stateDir: stateDir,
		poll:     DefaultPollInterval,
		local:    make(map[string]*sync.Mutex),
	}
}

func (l *Locker) keyMutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.local[key]
	if !ok {
		m = &sync.Mutex{}
		l.local[key] = m
	}
	return m
}

// Lock acquires the lock for key, waiting until it is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	m := l.keyMutex(key)
	if !lockWithContext(ctx, m, l.poll) {
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}

	path := domain.LockPath(l.stateDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EINTR) {
			_ = f.Close()
			m.Unlock()
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			m.Unlock()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(l.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
			_ = f.Close()
			m.Unlock()
		})
	}, nil
}

// lockWithContext polls m.TryLock until it succeeds or ctx is done.
func lockWithContext(ctx context.Context, m *sync.Mutex, poll time.Duration) bool {
	for {
		if m.TryLock() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
}
