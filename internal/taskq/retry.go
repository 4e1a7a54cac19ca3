package taskq

import (
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"

	"tradesignal/internal/config"
)

// RetryPolicy gives a failed task MaxRetries further executions, spaced by an
// exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Minute,
		Jitter:     true,
	}
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	p.Jitter = cfg.Jitter
	return p
}

// ShouldRetry reports whether a task that has failed on its attempt-th run
// (0 based) gets another one.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}

// Backoff is BaseDelay * 2^retry capped at MaxDelay. With Jitter the result is
// drawn uniformly from [0, backoff].
func (p RetryPolicy) Backoff(retry int) time.Duration {
	d := p.ceiling(retry)
	if p.Jitter && d > 0 {
		return time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}

func (p RetryPolicy) ceiling(retry int) time.Duration {
	base, limit := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = time.Second
	}
	if limit <= 0 {
		limit = 10 * time.Minute
	}
	if retry < 0 {
		return base
	}
	// 2^30 seconds is far past any sane cap.
	if retry > 30 {
		return limit
	}
	d := base * time.Duration(1<<retry)
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the pool buries the task at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
