package timekeeping

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitCount(counter func() int, want int) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if counter() >= want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestScheduler_Schedule_FiresDueJobOnWakeUp(t *testing.T) {
	clock := &ManualClock{}
	scheduler := New(clock)
	t.Cleanup(scheduler.Stop)

	var mu sync.Mutex
	fired := 0
	count := func() int { mu.Lock(); defer mu.Unlock(); return fired }

	scheduler.Schedule(func() { mu.Lock(); fired++; mu.Unlock() }, 10)

	clock.Set(9.999)
	scheduler.WakeUp()
	assert.False(t, awaitCount(count, 1))

	clock.Set(10)
	scheduler.WakeUp()
	assert.True(t, awaitCount(count, 1))
}

func TestScheduler_Schedule_ReturnsDistinctNonZeroTokens(t *testing.T) {
	clock := &ManualClock{}
	scheduler := New(clock)
	t.Cleanup(scheduler.Stop)

	first := scheduler.Schedule(func() {}, 100)
	second := scheduler.Schedule(func() {}, 200)

	assert.NotZero(t, first)
	assert.NotZero(t, second)
	assert.NotEqual(t, first, second)
}

func TestScheduler_Cancel_PreventsJobFromFiring(t *testing.T) {
	clock := &ManualClock{}
	scheduler := New(clock)
	t.Cleanup(scheduler.Stop)

	var mu sync.Mutex
	fired := 0
	count := func() int { mu.Lock(); defer mu.Unlock(); return fired }

	token := scheduler.Schedule(func() { mu.Lock(); fired++; mu.Unlock() }, 5)
	scheduler.Cancel(token)

	clock.Set(10)
	scheduler.WakeUp()
	assert.False(t, awaitCount(count, 1))
}

func TestScheduler_Schedule_FiresAllDueJobs(t *testing.T) {
	clock := &ManualClock{}
	scheduler := New(clock)
	t.Cleanup(scheduler.Stop)

	var mu sync.Mutex
	fired := 0
	count := func() int { mu.Lock(); defer mu.Unlock(); return fired }
	callback := func() { mu.Lock(); fired++; mu.Unlock() }

	scheduler.Schedule(callback, 1)
	scheduler.Schedule(callback, 2)
	scheduler.Schedule(callback, 50)

	clock.Set(3)
	scheduler.WakeUp()
	require.True(t, awaitCount(count, 2))
	assert.False(t, awaitCount(count, 3))
}

func TestScheduler_Schedule_JobMayRescheduleFromItsCallback(t *testing.T) {
	clock := &ManualClock{}
	scheduler := New(clock)
	t.Cleanup(scheduler.Stop)

	var mu sync.Mutex
	fired := 0
	count := func() int { mu.Lock(); defer mu.Unlock(); return fired }

	scheduler.Schedule(func() {
		mu.Lock()
		fired++
		mu.Unlock()
		scheduler.Schedule(func() { mu.Lock(); fired++; mu.Unlock() }, 20)
	}, 10)

	clock.Set(10)
	scheduler.WakeUp()
	require.True(t, awaitCount(count, 1))

	clock.Set(20)
	scheduler.WakeUp()
	assert.True(t, awaitCount(count, 2))
}

func TestSystemClock_Now_Advances(t *testing.T) {
	clock := SystemClock{}

	first := clock.Now()
	time.Sleep(2 * time.Millisecond)
	second := clock.Now()

	assert.Greater(t, second, first)
}

func TestManualClock_AdvanceMovesForward(t *testing.T) {
	clock := &ManualClock{}

	clock.Set(5)
	clock.Advance(2.5)

	assert.Equal(t, 7.5, clock.Now())
}
