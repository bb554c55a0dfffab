package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/rl1809/order-tracking/internal/core/domain"
)

const (
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 3
)

type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts counts the first call. Zero or less means retry until ctx is done.
	MaxAttempts int

	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Delay returns the wait before retry number attempt (0-based), doubling from
// BaseDelay and capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, fails permanently, the device goes offline or
// MaxAttempts is used up.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; p.MaxAttempts <= 0 || attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Delay(attempt-1)); err != nil {
				return fmt.Errorf("retry interrupted: %w", errors.Join(err, lastErr))
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		switch {
		case errors.As(err, &perm):
			return perm.err
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPermissionDenied):
			return err
		case IsOffline(err):
			if errors.Is(err, domain.ErrOffline) {
				return err
			}
			return fmt.Errorf("%w: %w", domain.ErrOffline, err)
		case ctx.Err() != nil:
			return err
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, lastErr)
}

// IsOffline reports whether err means the store cannot be reached at all, as
// opposed to a failed request.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrOffline) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
