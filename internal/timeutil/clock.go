// Package timeutil lets recorders take their wall clock and flush ticker
// from the caller, so tests can step time by hand.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source for file naming and periodic flushes.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// MockClock only moves when Advance is called.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	tickers map[int]*mockTicker
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start, tickers: make(map[int]*mockTicker)}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker schedules the first tick one period from the current mock time.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &mockTicker{
		clock:  c,
		id:     c.nextID,
		period: d,
		due:    c.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers[t.id] = t
	return t
}

// Advance moves time forward by d. Each ticker is offered every tick that
// falls due, stamped with its scheduled time; like time.Ticker, ticks a
// reader has not drained yet are dropped.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		for !t.due.After(c.now) {
			select {
			case t.ch <- t.due:
			default:
			}
			t.due = t.due.Add(t.period)
		}
	}
}

// Tickers reports how many tickers are running. Tests poll it to know a
// goroutine has entered its loop.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

type mockTicker struct {
	clock  *MockClock
	id     int
	period time.Duration
	due    time.Time
	ch     chan time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	delete(t.clock.tickers, t.id)
}

var (
	_ Clock = RealClock{}
	_ Clock = (*MockClock)(nil)
)
