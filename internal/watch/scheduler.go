// Package watch drives periodic deployment checks off the timer service.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/funding"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/metrics"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/timer"
)

var ErrAlreadyStarted = errors.New("watch: scheduler already started")

// Initializer is awaited once before the first wakeup is registered.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Checker runs one balance check cycle.
type Checker interface {
	CheckAndFund(ctx context.Context) (*funding.Attempt, error)
}

// Scheduler registers a wakeup every interval ticks and runs one check per
// wakeup. The cycle whose count exceeds maxChecks is the last one, so
// maxChecks+1 checks run in total.
type Scheduler struct {
	client    Initializer
	checker   Checker
	timer     timer.Service
	interval  timer.Tick
	maxChecks int
	metrics   *metrics.Metrics
	log       *zap.Logger

	wake    chan timer.Tick
	done    chan struct{}
	started atomic.Bool

	mu    sync.Mutex
	state WatchState
	err   error
}

func NewScheduler(
	client Initializer,
	checker Checker,
	ts timer.Service,
	interval timer.Tick,
	maxChecks int,
	m *metrics.Metrics,
	log *zap.Logger,
) *Scheduler {
	return &Scheduler{
		client:    client,
		checker:   checker,
		timer:     ts,
		interval:  interval,
		maxChecks: maxChecks,
		metrics:   m,
		log:       log,
		wake:      make(chan timer.Tick, 1),
		done:      make(chan struct{}),
		state:     WatchState{Phase: PhaseIdle},
	}
}

// Run initializes the deployment client, registers the first wakeup and then
// processes wakeups until the check bound is reached, a registration fails or
// ctx is cancelled. It may be called once.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()

	if err := s.client.Initialize(ctx); err != nil {
		s.stop()
		return fmt.Errorf("initialize deployment client: %w", err)
	}
	if err := s.schedule(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.stop()
			return ctx.Err()
		case at := <-s.wake:
			last, err := s.cycle(ctx, at)
			if last || err != nil {
				return err
			}
		}
	}
}

// Wake implements timer.Waker.
func (s *Scheduler) Wake(_ context.Context, at timer.Tick) {
	select {
	case s.wake <- at:
	case <-s.done:
	}
}

// State returns a snapshot of the watch state.
func (s *Scheduler) State() WatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Err is Run's return value once Done is closed.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scheduler) cycle(ctx context.Context, at timer.Tick) (bool, error) {
	s.mu.Lock()
	s.state.CheckCount++
	s.state.Phase = PhaseChecking
	s.state.NextWakeupTick = nil
	count := s.state.CheckCount
	s.mu.Unlock()
	s.metrics.SetCheckCount(count)

	last := count > s.maxChecks
	s.log.Info("wakeup",
		zap.Int64("tick", int64(at)),
		zap.Int("check_count", count),
		zap.Bool("last", last),
	)

	if att, err := s.checker.CheckAndFund(ctx); err != nil {
		s.log.Error("check failed", zap.Int("check_count", count), zap.Error(err))
	} else if att != nil {
		s.log.Info("funding attempt finished",
			zap.Int("check_count", count),
			zap.String("outcome", string(att.Outcome)),
		)
	}

	if last {
		s.log.Info("max checks reached, stopping",
			zap.Int("check_count", count),
			zap.Int("max_checks", s.maxChecks),
		)
		s.stop()
		return true, nil
	}
	return false, s.schedule(ctx)
}

// schedule registers the next wakeup interval ticks after the current tick.
func (s *Scheduler) schedule(ctx context.Context) error {
	now, err := s.timer.CurrentTick(ctx)
	if err != nil {
		return s.registrationFailed(now, fmt.Errorf("read current tick: %w", err))
	}
	next := now + s.interval

	s.log.Info("registering next wakeup",
		zap.Int64("tick", int64(next)),
		zap.Int("check_count", s.State().CheckCount),
	)
	got, err := s.timer.SetWakeup(ctx, next, s)
	if err != nil {
		return s.registrationFailed(next, err)
	}

	s.mu.Lock()
	s.state.Phase = PhaseScheduled
	s.state.NextWakeupTick = &got
	s.mu.Unlock()
	s.metrics.WakeupRegistered()
	return nil
}

func (s *Scheduler) registrationFailed(tick timer.Tick, err error) error {
	rerr := &RegistrationError{Tick: tick, Timer: timerName(s.timer), Err: err}
	s.log.Error("could not schedule next wakeup",
		zap.Int64("tick", int64(tick)),
		zap.String("timer", rerr.Timer),
		zap.Error(err),
	)
	s.stop()
	return rerr
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.state.Phase = PhaseStopped
	s.state.NextWakeupTick = nil
	s.mu.Unlock()
	s.metrics.SetStopped()
}

func timerName(ts timer.Service) string {
	if st, ok := ts.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", ts)
}
