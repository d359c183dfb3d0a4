package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/Ramsey-B/clover/pkg/metrics"
)

// Pacer spaces out consecutive writes against an upstream API.
type Pacer interface {
	Wait(ctx context.Context) error
}

// IntervalPacer sleeps a jittered duration between Min and Max on every Wait.
type IntervalPacer struct {
	clock Clock
	min   time.Duration
	max   time.Duration
}

func NewIntervalPacer(clock Clock, min, max time.Duration) *IntervalPacer {
	if max < min {
		max = min
	}
	return &IntervalPacer{
		clock: clock,
		min:   min,
		max:   max,
	}
}

func (p *IntervalPacer) Wait(ctx context.Context) error {
	d := p.min
	if p.max > p.min {
		d += time.Duration(rand.Int64N(int64(p.max - p.min)))
	}

	start := p.clock.Now()
	err := p.clock.Sleep(ctx, d)
	metrics.RateLimitWaitTime.Observe(p.clock.Now().Sub(start).Seconds())
	return err
}

// NopPacer waits for nothing. Used for single-record upserts and tests.
type NopPacer struct{}

func (NopPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}

// ParseRetryAfter parses a Retry-After header value
// Returns the duration to wait before retrying
func ParseRetryAfter(value string) (time.Duration, error) {
	// Try parsing as seconds
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	// Try parsing as HTTP date (RFC 1123)
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return time.Until(t), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}
