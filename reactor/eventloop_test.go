package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T) *EventLoop {
	t.Helper()
	th := NewEventLoopThread()
	loop, err := th.Start()
	require.NoError(t, err)
	t.Cleanup(th.Stop)
	return loop
}

func TestRunInLoopInlineWhenCalledFromLoopThread(t *testing.T) {
	loop := newRunningLoop(t)
	done := make(chan bool, 1)
	loop.RunInLoop(func() {
		ranInline := false
		loop.RunInLoop(func() { ranInline = true })
		done <- ranInline && loop.IsInLoopThread()
	})
	select {
	case inLoop := <-done:
		assert.True(t, inLoop)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestQueueInLoopFromOtherGoroutineExecutesOnLoop(t *testing.T) {
	loop := newRunningLoop(t)
	var mu sync.Mutex
	var ranOnLoop bool
	doneCh := make(chan struct{})

	loop.QueueInLoop(func() {
		mu.Lock()
		ranOnLoop = loop.IsInLoopThread()
		mu.Unlock()
		close(doneCh)
	})

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued functor")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ranOnLoop)
}

func TestQueueInLoopOrderingWithinOneCaller(t *testing.T) {
	loop := newRunningLoop(t)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		i := i
		loop.QueueInLoop(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	waitOrTimeout(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out")
	}
}

func TestRunAfterOrdering(t *testing.T) {
	loop := newRunningLoop(t)
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(3)
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			wg.Done()
		}
	}
	loop.RunAfter(50*time.Millisecond, record("A"))
	loop.RunAfter(20*time.Millisecond, record("B"))
	loop.RunAfter(100*time.Millisecond, record("C"))

	waitOrTimeout(t, &wg, 2*time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"B", "A", "C"}, order)
}

func TestCancelTimerFromInsideItsOwnRepeatingCallback(t *testing.T) {
	loop := newRunningLoop(t)
	var mu sync.Mutex
	count := 0
	var id TimerId
	fired := make(chan struct{})

	id = loop.RunEvery(10*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
		loop.CancelTimer(id)
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	// Give a cancelled repeater a couple of extra intervals to prove it
	// does not fire again.
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestCancelAlreadyFiredOneShotIsANoOp(t *testing.T) {
	loop := newRunningLoop(t)
	fired := make(chan struct{})
	id := loop.RunAfter(5*time.Millisecond, func() {
		close(fired)
	})
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	assert.NotPanics(t, func() { loop.CancelTimer(id) })
}
