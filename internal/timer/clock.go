package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Clock is a wall-clock Service. Tick n is the instant n*tickSec seconds
// after the Unix epoch.
type Clock struct {
	cron    *cron.Cron
	tickSec int64
	now     func() time.Time
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

var _ Service = (*Clock)(nil)

// NewClock starts a cron runner and returns a Clock on top of it. Call Stop
// to release it.
func NewClock(tickSec int64, log *zap.Logger) (*Clock, error) {
	if tickSec <= 0 {
		return nil, fmt.Errorf("timer: tick length must be positive, got %d", tickSec)
	}
	cl := cronLogger{log: log.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	clk := &Clock{
		cron:    c,
		tickSec: tickSec,
		now:     time.Now,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	// Entries must be added to a running cron: Start recomputes every
	// entry's next run, which would consume a one-shot schedule.
	c.Start()
	return clk, nil
}

func (c *Clock) CurrentTick(_ context.Context) (Tick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0, ErrStopped
	}
	return Tick(c.now().Unix() / c.tickSec), nil
}

// TimeOf returns the wall-clock instant of a tick.
func (c *Clock) TimeOf(t Tick) time.Time {
	return time.Unix(int64(t)*c.tickSec, 0)
}

func (c *Clock) SetWakeup(_ context.Context, tick Tick, w Waker) (Tick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0, ErrStopped
	}

	var (
		idMu sync.Mutex
		id   cron.EntryID
	)
	idMu.Lock()
	id = c.cron.Schedule(&onceAt{at: c.TimeOf(tick)}, cron.FuncJob(func() {
		idMu.Lock()
		entry := id
		idMu.Unlock()
		c.cron.Remove(entry)
		w.Wake(c.ctx, tick)
	}))
	idMu.Unlock()

	c.log.Debug("wakeup registered", zap.Int64("tick", int64(tick)), zap.Int("entry", int(id)))
	return tick, nil
}

// Stop halts the cron runner and cancels the context passed to wakers.
// Pending wakeups never fire.
func (c *Clock) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	<-c.cron.Stop().Done()
}

func (c *Clock) String() string {
	return fmt.Sprintf("clock(%ds/tick)", c.tickSec)
}

// onceAt is a cron.Schedule that yields its instant exactly once.
type onceAt struct {
	mu   sync.Mutex
	at   time.Time
	used bool
}

func (s *onceAt) Next(time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used {
		return time.Time{}
	}
	s.used = true
	return s.at
}

// cronLogger routes cron's logr-style output to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
