// Package retry classifies failures and executes operations under a bounded
// exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"io/fs"
	"maps"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// Classification is the outcome of classifying an error.
type Classification struct {
	Category domain.ErrorCategory
	Severity domain.Severity
}

// rule matches an error and yields a classification.
type rule struct {
	match func(err error, msg string) bool
	class Classification
}

func pattern(expr string) func(error, string) bool {
	re := regexp.MustCompile(expr)
	return func(_ error, msg string) bool { return re.MatchString(msg) }
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		match: func(err error, _ string) bool { return errors.Is(err, context.DeadlineExceeded) },
		class: Classification{domain.CategoryTimeout, domain.SeverityMedium},
	},
	{
		match: func(err error, _ string) bool {
			var ne net.Error
			return errors.As(err, &ne) && ne.Timeout()
		},
		class: Classification{domain.CategoryTimeout, domain.SeverityMedium},
	},
	{
		match: func(err error, _ string) bool { return errors.Is(err, context.Canceled) },
		class: Classification{domain.CategoryExecution, domain.SeverityHigh},
	},
	{
		match: func(err error, _ string) bool {
			var pe *fs.PathError
			return errors.As(err, &pe) && errors.Is(err, fs.ErrPermission)
		},
		class: Classification{domain.CategoryFilesystem, domain.SeverityHigh},
	},
	{
		match: func(err error, _ string) bool {
			var pe *fs.PathError
			return errors.As(err, &pe)
		},
		class: Classification{domain.CategoryFilesystem, domain.SeverityLow},
	},
	{
		match: pattern(`\b(401|403)\b|unauthori[sz]ed|forbidden|authentication|credential|invalid api key|permission denied`),
		class: Classification{domain.CategoryAuthentication, domain.SeverityHigh},
	},
	{
		match: pattern(`\b(429|502|503|504)\b|connection (refused|reset|closed)|no such host|network|dial tcp|timed? ?out|rate.?limit|too many requests|overloaded|temporarily unavailable|broken pipe|unexpected eof`),
		class: Classification{domain.CategoryNetwork, domain.SeverityMedium},
	},
	{
		match: pattern(`no space left`),
		class: Classification{domain.CategoryFilesystem, domain.SeverityCritical},
	},
	{
		match: pattern(`no such file|not a directory|is a directory|file exists|path`),
		class: Classification{domain.CategoryFilesystem, domain.SeverityLow},
	},
	{
		match: pattern(`schema|invalid|malformed|unmarshal|parse|validation|unexpected type|missing field`),
		class: Classification{domain.CategoryValidation, domain.SeverityLow},
	},
	{
		match: pattern(`\bgit\b|merge conflict|non-fast-forward|push rejected|detached head`),
		class: Classification{domain.CategorySourceControl, domain.SeverityMedium},
	},
	{
		match: func(err error, msg string) bool {
			var ee *exec.ExitError
			return errors.As(err, &ee) || strings.Contains(msg, "exit status") || strings.Contains(msg, "signal: killed")
		},
		class: Classification{domain.CategoryExecution, domain.SeverityMedium},
	},
}

var unknown = Classification{domain.CategoryUnknown, domain.SeverityMedium}

// Classify maps err to a category and severity.
// It is total and deterministic: every error, including nil, yields a classification.
// An error that already carries an *domain.AgentError keeps that classification.
func Classify(err error) Classification {
	if err == nil {
		return unknown
	}
	var aerr *domain.AgentError
	if errors.As(err, &aerr) {
		return Classification{aerr.Category, aerr.Severity}
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		if r.match(err, msg) {
			return r.class
		}
	}
	return unknown
}

// Classifier wraps errors into *domain.AgentError values.
type Classifier struct {
	clock domain.Clock
}

// NewClassifier creates a Classifier stamping errors with clock.
func NewClassifier(clock domain.Clock) *Classifier {
	return &Classifier{clock: clock}
}

// Wrap classifies err. An existing *domain.AgentError keeps its
// classification; the result is always a fresh copy the caller may annotate.
// Returns nil for a nil error.
func (c *Classifier) Wrap(err error) *domain.AgentError {
	if err == nil {
		return nil
	}
	var aerr *domain.AgentError
	if errors.As(err, &aerr) {
		cp := *aerr
		cp.Context = maps.Clone(aerr.Context)
		return &cp
	}
	class := Classify(err)
	return domain.NewAgentError(err, class.Category, class.Severity, c.now())
}

func (c *Classifier) now() time.Time {
	if c == nil || c.clock == nil {
		return time.Now()
	}
	return c.clock.Now()
}
