package timekeeping

import (
	"sync"
	"time"

	"github.com/RobertWHurst/notus"
)

// SystemClock reports wall-clock time in seconds.
type SystemClock struct{}

var _ notus.Clock = SystemClock{}

// Now returns the current wall-clock time in seconds.
func (SystemClock) Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// ManualClock is a settable clock for tests. It only moves when told
// to; pair it with Scheduler.WakeUp to fire due jobs deterministically.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

var _ notus.Clock = &ManualClock{}

// Now returns the clock's current time in seconds.
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to the given time.
func (c *ManualClock) Set(now float64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by the given number of seconds.
func (c *ManualClock) Advance(seconds float64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}
