package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/runoshun/crewstate/internal/domain"
)

// InitRepoInput contains the input parameters for InitRepo.
type InitRepoInput struct {
	WriteConfig bool // Also write the repository config template if missing
}

// InitRepoOutput contains the output from InitRepo.
type InitRepoOutput struct {
	ConfigPath         string // Repository config path, if written
	AlreadyInitialized bool   // True if the store existed before
	ConfigCreated      bool
}

// InitRepo initializes the state directory of a repository.
type InitRepo struct {
	storeInit     domain.StoreInitializer
	configManager domain.ConfigManager
}

// NewInitRepo creates a new InitRepo use case.
func NewInitRepo(storeInit domain.StoreInitializer, configManager domain.ConfigManager) *InitRepo {
	return &InitRepo{storeInit: storeInit, configManager: configManager}
}

// Execute creates the store layout. Running it again is harmless.
func (uc *InitRepo) Execute(_ context.Context, in InitRepoInput) (*InitRepoOutput, error) {
	out := &InitRepoOutput{AlreadyInitialized: uc.storeInit.IsInitialized()}
	if err := uc.storeInit.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	if !in.WriteConfig {
		return out, nil
	}

	err := uc.configManager.InitRepoConfig()
	switch {
	case errors.Is(err, domain.ErrConfigExists):
	case err != nil:
		return nil, fmt.Errorf("write config: %w", err)
	default:
		out.ConfigCreated = true
		out.ConfigPath = uc.configManager.GetRepoConfigInfo().Path
	}
	return out, nil
}
