// Package executor runs task work as shell commands.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/runoshun/crewstate/internal/domain"
)

// Performer implements domain.TaskPerformer by running a shell command per task.
//
// The command receives the task through CREWSTATE_* environment variables
// and its description on stdin. A JSON object printed on stdout becomes the
// task result; any other output is stored under "output".
type Performer struct {
	command string
	dir     string
	env     []string
}

// Ensure Performer implements domain.TaskPerformer and domain.ReadinessChecker.
var (
	_ domain.TaskPerformer    = (*Performer)(nil)
	_ domain.ReadinessChecker = (*Performer)(nil)
)

// NewPerformer creates a Performer running command with `sh -c` in dir.
func NewPerformer(command, dir string) *Performer {
	return &Performer{command: command, dir: dir}
}

// WithEnv appends extra KEY=VALUE entries to the command environment.
func (p *Performer) WithEnv(env ...string) *Performer {
	p.env = append(p.env, env...)
	return p
}

// Ready returns domain.ErrNoTaskCommand when no command is configured.
func (p *Performer) Ready() error {
	if strings.TrimSpace(p.command) == "" {
		return domain.ErrNoTaskCommand
	}
	return nil
}

// Perform runs the command for task and parses its stdout.
func (p *Performer) Perform(ctx context.Context, task *domain.Task) (map[string]any, error) {
	if err := p.Ready(); err != nil {
		return nil, err
	}

	// #nosec G204 - the command comes from the user's own config or flags
	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	if p.dir != "" {
		cmd.Dir = p.dir
	}
	cmd.Env = append(os.Environ(), taskEnv(task)...)
	cmd.Env = append(cmd.Env, p.env...)
	cmd.Stdin = strings.NewReader(task.Description)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("task command interrupted: %w", errors.Join(ctx.Err(), err))
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("task command: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("task command: %w", err)
	}

	return ParseOutput(stdout.Bytes()), nil
}

// taskEnv describes task to the command.
func taskEnv(task *domain.Task) []string {
	return []string{
		"CREWSTATE_PROJECT=" + task.ProjectID,
		"CREWSTATE_TASK_ID=" + task.ID,
		"CREWSTATE_TASK_TITLE=" + task.Title,
		"CREWSTATE_TASK_TYPE=" + task.Type,
		"CREWSTATE_TASK_PRIORITY=" + string(task.Priority),
		"CREWSTATE_TASK_TAGS=" + strings.Join(task.Tags, ","),
		"CREWSTATE_ATTEMPT=" + strconv.Itoa(task.AttemptCount+1),
	}
}

// ParseOutput converts command stdout into a task result.
// Empty output yields an empty result.
func ParseOutput(out []byte) map[string]any {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(trimmed, &result); err == nil && result != nil {
		return result
	}
	return map[string]any{"output": string(trimmed)}
}
