package autosave

import (
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryPolicy controls how failed save attempts are retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialInterval is the wait before the first retry; each following wait
	// is multiplied by Multiplier, capped at MaxInterval.
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// AttemptTimeout bounds a single Save call. Zero means no timeout.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy waits 1s, 2s, then 4s across three retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
		AttemptTimeout:  10 * time.Second,
	}
}

// Sanitized returns a copy with invalid values replaced by defaults.
func (p RetryPolicy) Sanitized() RetryPolicy {
	def := DefaultRetryPolicy()
	out := p
	if out.MaxRetries < 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = def.InitialInterval
	}
	if out.Multiplier < 1 {
		out.Multiplier = def.Multiplier
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = def.MaxInterval
	}
	if out.MaxInterval < out.InitialInterval {
		out.MaxInterval = out.InitialInterval
	}
	if out.AttemptTimeout < 0 {
		out.AttemptTimeout = 0
	}
	return out
}

// newBackOff returns a deterministic schedule that yields backoff.Stop once
// MaxRetries delays have been handed out.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.MaxRetries == 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// PermanentError marks a save failure that retrying cannot fix, such as a
// validation or authorization rejection.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent save failure"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the coordinator skips retries. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return stderrors.As(err, &pe)
}
