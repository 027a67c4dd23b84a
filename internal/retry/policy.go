package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/runoshun/crewstate/internal/domain"
)

// Policy controls how many times an operation runs and how long to wait
// between attempts.
// Fields are ordered to minimize memory padding.
type Policy struct {
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	AttemptTimeout  time.Duration // 0 = no per-attempt timeout
	MaxTotalTime    time.Duration // 0 = unbounded
	ExponentialBase float64
	MaxAttempts     int // total calls including the first
	Jitter          bool
}

// Preset policies.
var (
	// NetworkPolicy suits calls to remote services.
	NetworkPolicy = Policy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2.0, Jitter: true}
	// SourceControlPolicy suits git operations.
	SourceControlPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, ExponentialBase: 2.0}
	// FilesystemPolicy suits local file operations.
	FilesystemPolicy = Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, ExponentialBase: 1.5}
)

// PresetFor returns the preset policy suited to a category.
// Categories without a preset get the network policy.
func PresetFor(category domain.ErrorCategory) Policy {
	switch category {
	case domain.CategorySourceControl:
		return SourceControlPolicy
	case domain.CategoryFilesystem:
		return FilesystemPolicy
	default:
		return NetworkPolicy
	}
}

// PolicyFromConfig builds a Policy from the [retry] config section.
func PolicyFromConfig(cfg domain.RetryConfig) Policy {
	return Policy{
		MaxAttempts:     cfg.MaxAttempts,
		BaseDelay:       cfg.BaseDelay.D(),
		MaxDelay:        cfg.MaxDelay.D(),
		ExponentialBase: cfg.ExponentialBase,
		Jitter:          cfg.Jitter,
		AttemptTimeout:  cfg.AttemptTimeout.D(),
		MaxTotalTime:    cfg.MaxTotalTime.D(),
	}
}

// ShouldRetry reports whether another attempt is allowed after attempt
// attempts have been made and the last one failed with aerr.
func ShouldRetry(aerr *domain.AgentError, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if aerr == nil {
		return true
	}
	if aerr.Severity == domain.SeverityHigh || aerr.Severity == domain.SeverityCritical {
		return false
	}
	return aerr.Recoverable
}

// DelayFor returns the wait before retry number attempt (0-based):
// min(base * exponentialBase^attempt, max), scaled by a factor in [0.5, 1.0]
// drawn from rnd when jitter is set. The result never exceeds max.
func DelayFor(attempt int, base, maxDelay time.Duration, exponentialBase float64, jitter bool, rnd func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if exponentialBase < 1 {
		exponentialBase = 1
	}
	d := float64(base) * math.Pow(exponentialBase, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	if jitter {
		if rnd == nil {
			rnd = rand.Float64
		}
		d *= 0.5 + 0.5*rnd()
	}
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Delay returns the wait before retry number attempt under p.
func (p Policy) Delay(attempt int, rnd func() float64) time.Duration {
	return DelayFor(attempt, p.BaseDelay, p.MaxDelay, p.ExponentialBase, p.Jitter, rnd)
}
