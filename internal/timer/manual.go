package timer

import (
	"context"
	"sort"
	"sync"
)

// Manual is a Service whose time only moves when told to. Wakeups fire
// synchronously from Fire. Safe for concurrent use.
type Manual struct {
	mu         sync.Mutex
	now        Tick
	pending    []pendingWakeup
	calls      int
	failNext   error
	registered chan Tick
}

type pendingWakeup struct {
	at Tick
	w  Waker
}

var _ Service = (*Manual)(nil)

func NewManual(start Tick) *Manual {
	return &Manual{now: start, registered: make(chan Tick, 64)}
}

func (m *Manual) CurrentTick(_ context.Context) (Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now, nil
}

func (m *Manual) SetWakeup(_ context.Context, tick Tick, w Waker) (Tick, error) {
	m.mu.Lock()
	m.calls++
	if err := m.failNext; err != nil {
		m.failNext = nil
		m.mu.Unlock()
		return 0, err
	}
	m.pending = append(m.pending, pendingWakeup{at: tick, w: w})
	sort.SliceStable(m.pending, func(i, j int) bool { return m.pending[i].at < m.pending[j].at })
	m.mu.Unlock()

	select {
	case m.registered <- tick:
	default:
	}
	return tick, nil
}

// Registered delivers the tick of every successful SetWakeup call.
func (m *Manual) Registered() <-chan Tick { return m.registered }

// Calls counts SetWakeup invocations, failed ones included.
func (m *Manual) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// FailNext makes the next SetWakeup call return err.
func (m *Manual) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Advance moves the clock forward by d ticks without firing anything.
func (m *Manual) Advance(d Tick) {
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}

// Fire moves the clock to the earliest pending wakeup and delivers it. It
// reports false if nothing is pending.
func (m *Manual) Fire(ctx context.Context) (Tick, bool) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return 0, false
	}
	next := m.pending[0]
	m.pending = m.pending[1:]
	if next.at > m.now {
		m.now = next.at
	}
	m.mu.Unlock()

	next.w.Wake(ctx, next.at)
	return next.at, true
}
