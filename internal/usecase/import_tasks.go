package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runoshun/crewstate/internal/domain"
)

// TaskFile is the YAML document read by import and written by export.
type TaskFile struct {
	ExportedAt time.Time  `yaml:"exported_at,omitempty"`
	Project    string     `yaml:"project,omitempty"`
	Tasks      []TaskSpec `yaml:"tasks"`
}

// TaskSpec is the definition of one task in a TaskFile.
// Exported tasks carry their full state; import only reads these fields.
// Fields are ordered to minimize memory padding.
type TaskSpec struct {
	Metadata          map[string]string `yaml:"metadata,omitempty"`
	ID                string            `yaml:"task_id"`
	Title             string            `yaml:"title"`
	Description       string            `yaml:"description,omitempty"`
	Type              string            `yaml:"task_type,omitempty"`
	Priority          string            `yaml:"priority,omitempty"`
	DependsOn         []string          `yaml:"depends_on,omitempty"`
	Tags              []string          `yaml:"tags,omitempty"`
	EstimatedDuration time.Duration     `yaml:"estimated_duration,omitempty"`
	MaxAttempts       int               `yaml:"max_attempts,omitempty"`
}

// ImportTasksInput contains the parameters for importing tasks.
type ImportTasksInput struct {
	ProjectID         string // Target project (empty = the file's project)
	FallbackProjectID string // Used when neither ProjectID nor the file names a project
	Data              []byte // YAML TaskFile
	SkipExisting      bool   // Skip tasks whose id already exists instead of failing
}

// ImportTasksOutput contains the result of importing tasks.
type ImportTasksOutput struct {
	ProjectID string
	Created   []string
	Skipped   []string
}

// ImportTasks is the use case for creating tasks from a YAML task list.
type ImportTasks struct {
	newTask *NewTask
}

// NewImportTasks creates a new ImportTasks use case.
func NewImportTasks(newTask *NewTask) *ImportTasks {
	return &ImportTasks{newTask: newTask}
}

// Execute creates the tasks in file order. Dependencies may point at tasks
// later in the file. The first structural error stops the import; tasks
// created before it are kept and reported.
func (uc *ImportTasks) Execute(ctx context.Context, in ImportTasksInput) (*ImportTasksOutput, error) {
	var file TaskFile
	dec := yaml.NewDecoder(bytes.NewReader(in.Data))
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}

	projectID := in.ProjectID
	if projectID == "" {
		projectID = file.Project
	}
	if projectID == "" {
		projectID = in.FallbackProjectID
	}
	if projectID == "" {
		return nil, domain.ErrEmptyProjectID
	}

	out := &ImportTasksOutput{ProjectID: projectID}
	for i, spec := range file.Tasks {
		_, err := uc.newTask.Execute(ctx, NewTaskInput{
			ProjectID:         projectID,
			TaskID:            spec.ID,
			Title:             spec.Title,
			Description:       spec.Description,
			Type:              spec.Type,
			Priority:          spec.Priority,
			DependsOn:         spec.DependsOn,
			Tags:              spec.Tags,
			Metadata:          spec.Metadata,
			EstimatedDuration: spec.EstimatedDuration,
			MaxAttempts:       spec.MaxAttempts,
		})
		if in.SkipExisting && errors.Is(err, domain.ErrDuplicateTask) {
			out.Skipped = append(out.Skipped, spec.ID)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("task #%d (%s): %w", i+1, spec.ID, err)
		}
		out.Created = append(out.Created, spec.ID)
	}
	return out, nil
}

// ExportTasksInput contains the parameters for exporting tasks.
type ExportTasksInput struct {
	ProjectID string
}

// ExportTasksOutput contains the exported YAML document.
type ExportTasksOutput struct {
	Data  []byte
	Count int
}

// ExportTasks is the use case for writing a project's tasks as YAML.
type ExportTasks struct {
	tasks domain.TaskRepository
	clock domain.Clock
}

// NewExportTasks creates a new ExportTasks use case.
func NewExportTasks(tasks domain.TaskRepository, clock domain.Clock) *ExportTasks {
	return &ExportTasks{tasks: tasks, clock: clock}
}

// exportFile mirrors TaskFile but carries the full task state.
type exportFile struct {
	ExportedAt time.Time      `yaml:"exported_at"`
	Project    string         `yaml:"project"`
	Tasks      []*domain.Task `yaml:"tasks"`
}

// Execute renders every task of the project. The output can be imported
// into another project; state fields are ignored on import.
func (uc *ExportTasks) Execute(_ context.Context, in ExportTasksInput) (*ExportTasksOutput, error) {
	if in.ProjectID == "" {
		return nil, domain.ErrEmptyProjectID
	}
	tasks, err := uc.tasks.List(in.ProjectID, domain.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(exportFile{ExportedAt: uc.clock.Now(), Project: in.ProjectID, Tasks: tasks}); err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}
	return &ExportTasksOutput{Data: buf.Bytes(), Count: len(tasks)}, nil
}
