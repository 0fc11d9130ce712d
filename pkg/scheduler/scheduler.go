// Package scheduler wraps delayed and periodic callbacks behind a Clock so
// debounce and interval logic can run against a virtual clock in tests.
package scheduler

import (
	"sync"
	"time"
)

// Cancel stops a scheduled callback. Calling it more than once is a no-op.
type Cancel func()

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is backed by the time package.
func RealClock() Clock { return realClock{} }

type Scheduler struct {
	clock Clock
}

func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{clock: clock}
}

func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// After runs fn once after d.
func (s *Scheduler) After(d time.Duration, fn func()) Cancel {
	t := s.clock.AfterFunc(d, fn)
	var once sync.Once
	return func() {
		once.Do(func() { t.Stop() })
	}
}

// Every runs fn every d until cancelled. The next tick is armed after fn
// returns, so a slow callback never overlaps itself.
func (s *Scheduler) Every(d time.Duration, fn func()) Cancel {
	p := &periodic{clock: s.clock, every: d, fn: fn}
	p.arm()
	return p.cancel
}

type periodic struct {
	clock   Clock
	every   time.Duration
	fn      func()
	mu      sync.Mutex
	timer   Timer
	stopped bool
}

func (p *periodic) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.timer = p.clock.AfterFunc(p.every, p.tick)
}

func (p *periodic) tick() {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}
	p.fn()
	p.arm()
}

func (p *periodic) cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
