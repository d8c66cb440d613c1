package scan

import (
	"context"
	"time"
)

// Pacer is the rate-limit strategy applied between members during a pass.
// It is a strategy object rather than an inline sleep so tests can run a
// full pass without waiting.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedDelay pauses a constant interval between members.
type FixedDelay struct {
	Delay time.Duration
}

func (p FixedDelay) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoDelay skips pacing entirely. Test use.
type NoDelay struct{}

func (NoDelay) Wait(ctx context.Context) error { return ctx.Err() }
