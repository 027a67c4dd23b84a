// Package gitstore provides a Git plumbing-based implementation of CheckpointRepository.
package gitstore

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"gopkg.in/yaml.v3"

	"github.com/runoshun/crewstate/internal/domain"
)

// Store implements domain.CheckpointRepository using Git plumbing (refs and blobs).
// Checkpoints live next to the code they describe and travel with
// `git push origin 'refs/<namespace>/*'`.
//
// Data structure:
//
//	refs/<namespace>/
//	  initialized   → empty blob
//	  checkpoints/
//	    <id>        → blob (checkpoint YAML)
type Store struct {
	repo      *git.Repository
	namespace string // e.g., "crewstate"
	mu        sync.RWMutex
}

// Ensure Store implements the repository ports.
var (
	_ domain.CheckpointRepository = (*Store)(nil)
	_ domain.StoreInitializer     = (*Store)(nil)
)

// New creates a new Store for the repository at repoPath.
// The repository is discovered from repoPath upwards.
func New(repoPath, namespace string) (*Store, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	return NewWithRepo(repo, namespace), nil
}

// NewWithRepo creates a new Store with an existing repository instance.
func NewWithRepo(repo *git.Repository, namespace string) *Store {
	if namespace == "" {
		namespace = domain.DefaultGitNamespace
	}
	return &Store{repo: repo, namespace: namespace}
}

func (s *Store) refPrefix() string {
	return "refs/" + s.namespace + "/"
}

func (s *Store) checkpointsPrefix() string {
	return s.refPrefix() + "checkpoints/"
}

func (s *Store) checkpointRef(id string) plumbing.ReferenceName {
	return plumbing.ReferenceName(s.checkpointsPrefix() + domain.SafeName(id))
}

func (s *Store) initializedRef() plumbing.ReferenceName {
	return plumbing.ReferenceName(s.refPrefix() + "initialized")
}

// Initialize writes the initialized marker if it doesn't exist.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isInitializedLocked() {
		return nil
	}
	hash, err := s.writeBlob(nil)
	if err != nil {
		return err
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(s.initializedRef(), hash)); err != nil {
		return fmt.Errorf("set initialized ref: %w", err)
	}
	return nil
}

// IsInitialized checks if the initialized marker exists.
func (s *Store) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isInitializedLocked()
}

func (s *Store) isInitializedLocked() bool {
	_, err := s.repo.Reference(s.initializedRef(), true)
	return err == nil
}

// Get retrieves a checkpoint by ID. Returns nil if not found.
func (s *Store) Get(checkpointID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, err := s.repo.Reference(s.checkpointRef(checkpointID), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("get checkpoint ref: %w", err)
	}
	cp, err := s.decode(ref.Hash())
	if err != nil {
		return nil, err
	}
	if cp.ID != checkpointID {
		return nil, nil // Different id sharing the same ref name
	}
	return cp, nil
}

// Create stores a new checkpoint. Existing refs are never overwritten.
func (s *Store) Create(cp *domain.Checkpoint) error {
	if cp == nil {
		return errors.New("checkpoint is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.checkpointRef(cp.ID)
	if _, err := s.repo.Reference(name, true); err == nil {
		return domain.ErrCheckpointExists
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("get checkpoint ref: %w", err)
	}

	data, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	hash, err := s.writeBlob(data)
	if err != nil {
		return err
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(name, hash)); err != nil {
		return fmt.Errorf("set checkpoint ref: %w", err)
	}
	return nil
}

// ListBySession returns a session's checkpoints in creation order.
func (s *Store) ListBySession(sessionID string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs, err := s.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}

	prefix := s.checkpointsPrefix() + domain.SafeName(sessionID) + "-ckpt-"
	var cps []*domain.Checkpoint
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !strings.HasPrefix(string(ref.Name()), prefix) {
			return nil
		}
		cp, decodeErr := s.decode(ref.Hash())
		if decodeErr != nil {
			return decodeErr
		}
		if cp.SessionID == sessionID {
			cps = append(cps, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(cps, func(a, b *domain.Checkpoint) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return cps, nil
}

func (s *Store) decode(hash plumbing.Hash) (*domain.Checkpoint, error) {
	data, err := s.readBlob(hash)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp domain.Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *Store) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("create blob writer: %w", err)
	}
	if _, writeErr := writer.Write(data); writeErr != nil {
		_ = writer.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", writeErr)
	}
	_ = writer.Close()

	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store blob: %w", err)
	}
	return hash, nil
}

func (s *Store) readBlob(hash plumbing.Hash) ([]byte, error) {
	blob, err := s.repo.BlobObject(hash)
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	reader, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob data: %w", err)
	}
	return data, nil
}
