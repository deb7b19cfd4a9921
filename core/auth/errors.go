package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidToken       = errors.New("invalid security token, please retry")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrForbidden          = errors.New("access denied")
	ErrLimiterUnavailable = errors.New("login temporarily unavailable, please try again later")
)

type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %d seconds", e.RetryAfterSeconds())
}

func (e *LockedOutError) RetryAfterSeconds() int {
	return ceilSeconds(e.RetryAfter)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
