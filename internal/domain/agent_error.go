package domain

import (
	"fmt"
	"time"
)

// ErrorCategory groups failures by the subsystem they come from.
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network"
	CategoryFilesystem     ErrorCategory = "filesystem"
	CategorySourceControl  ErrorCategory = "source_control"
	CategoryExecution      ErrorCategory = "execution"
	CategoryValidation     ErrorCategory = "validation"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryUnknown        ErrorCategory = "unknown"
)

// AllErrorCategories returns all categories in display order.
func AllErrorCategories() []ErrorCategory {
	return []ErrorCategory{
		CategoryNetwork,
		CategoryFilesystem,
		CategorySourceControl,
		CategoryExecution,
		CategoryValidation,
		CategoryTimeout,
		CategoryAuthentication,
		CategoryUnknown,
	}
}

// Severity ranks how serious a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AllSeverities returns all severities from least to most severe.
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Recoverable returns false for high and critical severities.
func (s Severity) Recoverable() bool {
	return s != SeverityHigh && s != SeverityCritical
}

// AgentError is a classified failure.
// Fields are ordered to minimize memory padding.
type AgentError struct {
	Timestamp   time.Time
	Cause       error
	Context     map[string]string
	Message     string
	Category    ErrorCategory
	Severity    Severity
	Recoverable bool
}

// NewAgentError creates a classified error wrapping cause.
// Recoverable is derived from severity.
func NewAgentError(cause error, category ErrorCategory, severity Severity, now time.Time) *AgentError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &AgentError{
		Message:     msg,
		Category:    category,
		Severity:    severity,
		Recoverable: severity.Recoverable(),
		Cause:       cause,
		Timestamp:   now,
	}
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("[%s/%s] %s", e.Category, e.Severity, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Cause }

// WithContext returns e with key set in its context map.
func (e *AgentError) WithContext(key, value string) *AgentError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// TaskError is one entry in a task's error history.
type TaskError struct {
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Message   string        `json:"message" yaml:"message"`
	Category  ErrorCategory `json:"category" yaml:"category"`
	Severity  Severity      `json:"severity" yaml:"severity"`
	Attempt   int           `json:"attempt" yaml:"attempt"`
}
