package watch

import (
	"fmt"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/timer"
)

// Phase is the scheduler's lifecycle position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseChecking
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScheduled:
		return "scheduled"
	case PhaseChecking:
		return "checking"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for _, q := range []Phase{PhaseIdle, PhaseScheduled, PhaseChecking, PhaseStopped} {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// WatchState is owned by the Scheduler. State returns copies.
type WatchState struct {
	CheckCount     int         `json:"check_count"`
	NextWakeupTick *timer.Tick `json:"next_wakeup_tick,omitempty"`
	Phase          Phase       `json:"phase"`
}

func (s WatchState) clone() WatchState {
	if s.NextWakeupTick != nil {
		t := *s.NextWakeupTick
		s.NextWakeupTick = &t
	}
	return s
}

// RegistrationError is returned when the timer refuses a wakeup. No further
// checks run after it.
type RegistrationError struct {
	Tick  timer.Tick
	Timer string
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register wakeup at tick %d with %s: %v", e.Tick, e.Timer, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
