package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrRateLimited = errors.New("too many requests, try again later")

// Result describes the window state after counting one request.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per key inside a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func newResult(limit int, count int64, resetIn time.Duration) Result {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
	}
	if !res.Allowed {
		res.RetryAfter = resetIn
	}
	return res
}
