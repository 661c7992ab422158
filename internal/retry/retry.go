package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Backoff int

const (
	Fixed Backoff = iota
	// Linear waits Delay*attempt before the next try.
	Linear
)

type Policy struct {
	Attempts int
	Delay    time.Duration
	Backoff  Backoff
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func (p Policy) wait(attempt int) time.Duration {
	if p.Backoff == Linear {
		return p.Delay * time.Duration(attempt)
	}
	return p.Delay
}

// Do calls fn up to p.Attempts times. The last error is returned wrapped with
// the attempt count; a cancelled context stops the loop between attempts.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if attempt == p.Attempts {
			break
		}

		t := time.NewTimer(p.wait(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, errors.Join(lastErr, ctx.Err()))
		case <-t.C:
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", p.Attempts, lastErr)
}
