package executor

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask() *domain.Task {
	return &domain.Task{
		ProjectID:    "api",
		ID:           "build",
		Title:        "Build it",
		Description:  "compile everything",
		Type:         "ci",
		Priority:     domain.PriorityHigh,
		Tags:         []string{"a", "b"},
		AttemptCount: 1,
	}
}

func TestPerformer_Perform(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping test on Windows")
	}
	ctx := context.Background()

	t.Run("parses JSON object output", func(t *testing.T) {
		p := NewPerformer(`echo '{"pr": 12, "ok": true}'`, "")
		result, err := p.Perform(ctx, newTask())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"pr": 12.0, "ok": true}, result)
	})

	t.Run("wraps plain output", func(t *testing.T) {
		p := NewPerformer(`echo "$CREWSTATE_PROJECT/$CREWSTATE_TASK_ID $CREWSTATE_ATTEMPT $CREWSTATE_TASK_TAGS"`, "")
		result, err := p.Perform(ctx, newTask())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"output": "api/build 2 a,b"}, result)
	})

	t.Run("passes description on stdin", func(t *testing.T) {
		result, err := NewPerformer("cat", "").Perform(ctx, newTask())
		require.NoError(t, err)
		assert.Equal(t, "compile everything", result["output"])
	})

	t.Run("runs in dir with extra env", func(t *testing.T) {
		dir := t.TempDir()
		p := NewPerformer(`echo "$EXTRA"; test "$(pwd -P)" = "$(cd "$WANT" && pwd -P)"`, dir).WithEnv("EXTRA=x", "WANT="+dir)
		result, err := p.Perform(ctx, newTask())
		require.NoError(t, err)
		assert.Equal(t, "x", result["output"])
	})

	t.Run("empty output gives empty result", func(t *testing.T) {
		result, err := NewPerformer("true", "").Perform(ctx, newTask())
		require.NoError(t, err)
		assert.Empty(t, result)
		assert.NotNil(t, result)
	})

	t.Run("failing command reports stderr", func(t *testing.T) {
		_, err := NewPerformer("echo 'connection refused' >&2; exit 3", "").Perform(ctx, newTask())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		var exitErr *exec.ExitError
		assert.True(t, errors.As(err, &exitErr))
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := NewPerformer("sleep 5", "").Perform(cctx, newTask())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("requires a command", func(t *testing.T) {
		_, err := NewPerformer("  ", "").Perform(ctx, newTask())
		assert.ErrorIs(t, err, domain.ErrNoTaskCommand)
	})
}

func TestPerformer_Ready(t *testing.T) {
	assert.ErrorIs(t, NewPerformer("", t.TempDir()).Ready(), domain.ErrNoTaskCommand)
	assert.ErrorIs(t, NewPerformer(" \t", "").Ready(), domain.ErrNoTaskCommand)
	assert.NoError(t, NewPerformer("true", "").Ready())
}

func TestParseOutput(t *testing.T) {
	assert.Equal(t, map[string]any{}, ParseOutput(nil))
	assert.Equal(t, map[string]any{"output": "[1,2]"}, ParseOutput([]byte("[1,2]\n")))
	assert.Equal(t, map[string]any{"output": "null"}, ParseOutput([]byte("null")))
	assert.Equal(t, map[string]any{"k": "v"}, ParseOutput([]byte(` {"k":"v"} `)))
}
