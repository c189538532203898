package expiry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestScheduleFires(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[string]()
	fired := make(chan string, 1)
	s.Schedule("k", 20*time.Millisecond, func(key string) { fired <- key })
	assert.True(t, s.Scheduled("k"))
	assert.Equal(t, 1, s.Pending())

	select {
	case key := <-fired:
		assert.Equal(t, "k", key)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduleDebounces(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[string]()
	var count atomic.Int32
	onFire := func(string) { count.Add(1) }

	s.Schedule("k", 40*time.Millisecond, onFire)
	time.Sleep(20 * time.Millisecond)
	s.Schedule("k", 100*time.Millisecond, onFire)
	assert.Equal(t, 1, s.Pending())

	// past the first deadline, before the second
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())

	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[int]()
	var count atomic.Int32
	s.Schedule(1, 20*time.Millisecond, func(int) { count.Add(1) })
	assert.True(t, s.Cancel(1))
	assert.False(t, s.Cancel(1))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
	assert.Zero(t, s.Pending())
}

func TestCancelWithPreventsStaleExpiry(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[string]()
	store := map[string]string{}
	remove := func(key string) {
		delete(store, key)
	}

	s.ScheduleWith("k", 20*time.Millisecond, func() bool {
		store["k"] = "ttl"
		return true
	}, remove)
	assert.True(t, s.CancelWith("k", func() bool {
		store["k"] = "forever"
		return true
	}))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, s.Pending())
	assert.Equal(t, "forever", store["k"])
}

func TestFailedWritesLeaveTimersAlone(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[string]()
	ok := s.ScheduleWith("k", time.Minute, func() bool { return false }, nil)
	assert.False(t, ok)
	assert.False(t, s.Scheduled("k"))

	s.Schedule("k", time.Minute, nil)
	assert.False(t, s.CancelWith("k", func() bool { return false }))
	assert.True(t, s.Scheduled("k"))
	assert.True(t, s.CancelWith("k", nil))
	assert.False(t, s.Scheduled("k"))
}

func TestConcurrentScheduleSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[string]()
	var fires atomic.Int32
	var last atomic.Int32
	var wg sync.WaitGroup
	written := -1

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.ScheduleWith("k", 30*time.Millisecond, func() bool {
				written = i
				return true
			}, func(string) {
				fires.Add(1)
				last.Store(int32(written))
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, s.Pending(), "exactly one timer survives")

	assert.Eventually(t, func() bool { return fires.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fires.Load(), "superseded timers never fire")
	s.mu.Lock()
	assert.Equal(t, int32(written), last.Load())
	s.mu.Unlock()
}

func TestIndependentKeys(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[string]()
	var mu sync.Mutex
	var order []string
	record := func(key string) {
		mu.Lock()
		order = append(order, key)
		mu.Unlock()
	}
	s.Schedule("slow", 80*time.Millisecond, record)
	s.Schedule("fast", 10*time.Millisecond, record)
	s.Schedule("fast-again", 10*time.Millisecond, record)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "slow", order[2])
	mu.Unlock()
}

func TestStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := New[string]()
	var count atomic.Int32
	for _, k := range []string{"a", "b", "c"} {
		s.Schedule(k, 20*time.Millisecond, func(string) { count.Add(1) })
	}
	require.Equal(t, 3, s.Pending())
	s.Stop()
	assert.Zero(t, s.Pending())

	wrote := false
	assert.True(t, s.ScheduleWith("d", time.Millisecond, func() bool { wrote = true; return true }, func(string) { count.Add(1) }))
	assert.True(t, wrote)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
}
