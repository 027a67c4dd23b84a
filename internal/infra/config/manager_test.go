package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_GetRepoConfigInfo(t *testing.T) {
	t.Run("returns info when file exists", func(t *testing.T) {
		stateDir := t.TempDir()
		configContent := "[log]\nlevel = \"debug\""
		writeConfig(t, stateDir, configContent)

		info := NewManagerWithGlobalDir(stateDir, "").GetRepoConfigInfo()

		assert.Equal(t, filepath.Join(stateDir, domain.ConfigFileName), info.Path)
		assert.Equal(t, configContent, info.Content)
		assert.True(t, info.Exists)
	})

	t.Run("returns info when file does not exist", func(t *testing.T) {
		stateDir := t.TempDir()

		info := NewManagerWithGlobalDir(stateDir, "").GetRepoConfigInfo()

		assert.Equal(t, filepath.Join(stateDir, domain.ConfigFileName), info.Path)
		assert.Empty(t, info.Content)
		assert.False(t, info.Exists)
	})
}

func TestManager_GetGlobalConfigInfo(t *testing.T) {
	t.Run("returns info when file exists", func(t *testing.T) {
		globalDir := t.TempDir()
		writeConfig(t, globalDir, "[metrics]\naddr = \":9090\"")

		info := NewManagerWithGlobalDir("", globalDir).GetGlobalConfigInfo()

		assert.True(t, info.Exists)
		assert.Contains(t, info.Content, "9090")
	})

	t.Run("returns empty info without a global dir", func(t *testing.T) {
		info := NewManagerWithGlobalDir("", "").GetGlobalConfigInfo()

		assert.Empty(t, info.Path)
		assert.False(t, info.Exists)
	})
}

func TestManager_InitRepoConfig(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), ".crewstate")
	manager := NewManagerWithGlobalDir(stateDir, "")

	require.NoError(t, manager.InitRepoConfig())

	path := filepath.Join(stateDir, domain.ConfigFileName)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfigTemplate(), string(content))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	assert.ErrorIs(t, manager.InitRepoConfig(), domain.ErrConfigExists)
}

func TestManager_InitGlobalConfig(t *testing.T) {
	globalDir := filepath.Join(t.TempDir(), "crewstate")
	manager := NewManagerWithGlobalDir("", globalDir)

	require.NoError(t, manager.InitGlobalConfig())
	assert.True(t, manager.GetGlobalConfigInfo().Exists)
	assert.ErrorIs(t, manager.InitGlobalConfig(), domain.ErrConfigExists)

	assert.Error(t, NewManagerWithGlobalDir("", "").InitGlobalConfig())
}
