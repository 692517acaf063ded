package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"regexp"
	"time"
)

const (
	// DefaultAttempts is the attempt budget for provider pulls and token fetches.
	DefaultAttempts  = 4
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// transientMessage matches rate-limit, timeout, connection reset and DNS failures.
var transientMessage = regexp.MustCompile(`(?i)(rate.?limit|too many requests|throttl|timed? ?out|deadline exceeded|econnreset|connection reset|broken pipe|socket hang up|eai_again|enotfound|no such host|temporary failure in name resolution|server misbehaving)`)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatusCode() int
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as terminal regardless of its message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether err looks transient: HTTP 429 or 5xx, a network
// timeout, or a message naming a rate limit, timeout, reset or DNS failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		if code == 429 || code >= 500 {
			return true
		}
		if code >= 400 {
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return transientMessage.MatchString(err.Error())
}

// Backoff returns min(max, base * 2^(attempt-1)) for a 1-based attempt.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(2, float64(attempt-1))
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the context-aware default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy retries transient failures with capped exponential backoff. It holds
// no business logic and is shared by token fetches and provider pulls.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Sleep     SleepFunc
	Classify  func(error) bool
	Logger    *slog.Logger
}

// NewPolicy returns a policy with the given attempt budget and default delays.
func NewPolicy(attempts int, logger *slog.Logger) Policy {
	return Policy{
		Attempts:  attempts,
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		Logger:    logger,
	}
}

// WithAttempts returns a copy of the policy with a different attempt budget.
func (p Policy) WithAttempts(n int) Policy {
	p.Attempts = n
	return p
}

// Do runs op until it succeeds, fails terminally, or the attempt budget is spent.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base, max := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	classify := p.Classify
	if classify == nil {
		classify = Retryable
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !classify(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := Backoff(attempt, base, max)
		if p.Logger != nil {
			p.Logger.Warn("retrying after transient error",
				"operation", name,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay.String(),
				"error", err,
			)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("%s: %w (last error: %v)", name, serr, lastErr)
		}
	}
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", name, attempts, lastErr)
}
