// Package timer provides the logical clock the watchdog schedules against.
//
// A Tick is an abstract monotonic time unit. The production Clock maps one
// tick to a fixed number of wall-clock seconds and fires one-shot wakeups
// through a cron runner; Manual is a deterministic clock for tests.
package timer

import (
	"context"
	"errors"
)

// Tick is a logical timestamp.
type Tick int64

var ErrStopped = errors.New("timer: stopped")

// Waker receives a one-shot wakeup.
type Waker interface {
	Wake(ctx context.Context, at Tick)
}

// WakerFunc adapts a function to Waker.
type WakerFunc func(ctx context.Context, at Tick)

func (f WakerFunc) Wake(ctx context.Context, at Tick) { f(ctx, at) }

// Service is the timer collaborator.
type Service interface {
	CurrentTick(ctx context.Context) (Tick, error)
	// SetWakeup registers w to be woken once at (or after) tick. It returns
	// the tick actually registered.
	SetWakeup(ctx context.Context, tick Tick, w Waker) (Tick, error)
}
