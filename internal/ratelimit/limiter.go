package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Policy is a named window-reset preset: at most Max requests per Window.
type Policy struct {
	Name   string
	Window time.Duration
	Max    int
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// LimitError is returned to callers when a request was rejected.
type LimitError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Policy, e.RetryAfter)
}

func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }

// Limiter counts requests per key under a policy. A window starts at the
// first request and every request inside it shares one counter; the first
// request at or after the window end starts a fresh window at 1. Rejected
// requests are not counted.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

// Key joins the policy name and the client identifiers into a counter key.
func Key(policy Policy, clientIP, subject string) string {
	if subject == "" {
		return policy.Name + ":" + clientIP
	}
	return policy.Name + ":" + clientIP + ":" + subject
}

// TargetKey names the counter for one account on one route. It never
// overlaps a Key counter because an IP cannot contain "#".
func TargetKey(policy Policy, route, target string) string {
	return policy.Name + ":" + route + "#" + target
}

// Check runs Allow and converts a rejection into a *LimitError.
func Check(ctx context.Context, l Limiter, key string, policy Policy) (Decision, error) {
	d, err := l.Allow(ctx, key, policy)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, &LimitError{Policy: policy.Name, RetryAfter: d.RetryAfter}
	}
	return d, nil
}
