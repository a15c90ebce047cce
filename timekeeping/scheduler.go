// Package timekeeping provides the stock notus.Scheduler
// implementation along with wall and manual clocks.
package timekeeping

import (
	"math"
	"sync"
	"time"

	"github.com/RobertWHurst/notus"
	"github.com/telemetrytv/trace"
)

var schedulerDebug = trace.Bind("notus:timekeeping:scheduler")

type job struct {
	token    int
	due      float64
	callback func()
}

// Scheduler fires callbacks at clock deadlines on a single loop
// goroutine. Jobs scheduled against a manual clock fire when WakeUp is
// called after the clock has been advanced past their due time.
type Scheduler struct {
	clock notus.Clock

	mu        sync.Mutex
	jobs      map[int]*job
	nextToken int
	wakeChan  chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
}

var _ notus.Scheduler = &Scheduler{}

// New creates a scheduler driven by the given clock and starts its
// loop goroutine.
func New(clock notus.Clock) *Scheduler {
	s := &Scheduler{
		clock:    clock,
		jobs:     map[int]*job{},
		wakeChan: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule registers a callback to fire at or after the given clock
// time. The returned token is non-zero and may be passed to Cancel.
func (s *Scheduler) Schedule(callback func(), due float64) int {
	s.mu.Lock()
	s.nextToken++
	token := s.nextToken
	s.jobs[token] = &job{token: token, due: due, callback: callback}
	s.mu.Unlock()

	schedulerDebug.Tracef("Scheduled job %d for %f", token, due)
	s.WakeUp()
	return token
}

// Cancel removes a scheduled job. Canceling an unknown or already
// fired token is a no-op.
func (s *Scheduler) Cancel(token int) {
	s.mu.Lock()
	delete(s.jobs, token)
	s.mu.Unlock()
	schedulerDebug.Tracef("Canceled job %d", token)
}

// Clock returns the clock driving this scheduler.
func (s *Scheduler) Clock() notus.Clock {
	return s.clock
}

// WakeUp forces the loop to re-evaluate due times immediately. Tests
// using a manual clock call this after advancing the clock.
func (s *Scheduler) WakeUp() {
	select {
	case s.wakeChan <- struct{}{}:
	default:
	}
}

// Stop terminates the loop goroutine. Pending jobs never fire.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Scheduler) run() {
	for {
		now := s.clock.Now()

		s.mu.Lock()
		var fired []func()
		earliest := math.Inf(1)
		for token, j := range s.jobs {
			if j.due <= now {
				fired = append(fired, j.callback)
				delete(s.jobs, token)
			} else if j.due < earliest {
				earliest = j.due
			}
		}
		s.mu.Unlock()

		for _, callback := range fired {
			callback()
		}

		var wait time.Duration
		if math.IsInf(earliest, 1) {
			wait = time.Hour
		} else {
			wait = time.Duration((earliest - now) * float64(time.Second))
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-s.wakeChan:
			timer.Stop()
		case <-timer.C:
		}
	}
}
