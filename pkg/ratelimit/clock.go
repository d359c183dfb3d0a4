package ratelimit

import (
	"context"
	"time"
)

// Clock abstracts wall time so pacing can be controlled in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for the given duration or until the context is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func NewClock() Clock {
	return &realClock{}
}

func (c *realClock) Now() time.Time {
	return time.Now()
}

func (c *realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
