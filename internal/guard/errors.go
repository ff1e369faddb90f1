package guard

import (
	"errors"
	"fmt"
	"time"
)

// These are returned before the wrapped operation runs. Operation errors are
// never wrapped in any of them.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// RateLimitError carries the limiter key and the wait until the next attempt
// can succeed. errors.Is(err, ErrRateLimited) matches it.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
