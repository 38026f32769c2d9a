package reactor

import (
	"sync"

	"github.com/driftnet/reactor/rlog"
)

// EventLoopThread owns exactly one goroutine running exactly one
// EventLoop for its lifetime, matching spec.md §3's "Loops in the thread
// pool are owned by their EventLoopThread". See spec.md component table
// row "EventLoopThread / Pool".
type EventLoopThread struct {
	opts []Option

	mu     sync.Mutex
	loop   *EventLoop
	ready  chan struct{}
	done   chan struct{}
	logger *rlog.Logger
}

// NewEventLoopThread constructs a thread that has not yet been started.
func NewEventLoopThread(opts ...Option) *EventLoopThread {
	return &EventLoopThread{
		opts:  opts,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the goroutine, blocks until its EventLoop has been
// constructed, and returns a reference to that loop. The returned loop's
// lifetime is bounded by this EventLoopThread; callers must not outlive it
// without calling Stop first.
func (t *EventLoopThread) Start() (*EventLoop, error) {
	errCh := make(chan error, 1)
	go func() {
		loop, err := NewEventLoop(t.opts...)
		if err != nil {
			errCh <- err
			close(t.ready)
			return
		}
		t.mu.Lock()
		t.loop = loop
		t.mu.Unlock()
		errCh <- nil
		close(t.ready)

		loop.Loop()

		_ = loop.Close()
		close(t.done)
	}()
	<-t.ready
	if err := <-errCh; err != nil {
		return nil, err
	}
	return t.loop, nil
}

// Loop returns the thread's EventLoop, or nil if Start has not completed.
func (t *EventLoopThread) Loop() *EventLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Stop asks the owned loop to quit and waits for its goroutine to exit.
func (t *EventLoopThread) Stop() {
	if l := t.Loop(); l != nil {
		l.Quit()
	}
	<-t.done
}

// EventLoopThreadPool owns N EventLoopThreads and hands out loops to
// callers round-robin (or by hash), per spec.md component table row
// "EventLoopThread / Pool": "worker threads each hosting one loop;
// round-robin dispatch".
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	opts     []Option

	threads []*EventLoopThread
	loops   []*EventLoop
	next    int
}

// NewEventLoopThreadPool constructs a pool bound to baseLoop (the loop the
// pool's own caller, typically a TcpServer's Acceptor, runs on).
func NewEventLoopThreadPool(baseLoop *EventLoop, opts ...Option) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop, opts: opts}
}

// Start launches numThreads worker loops. With numThreads == 0, the pool
// hands out baseLoop for every request instead (single-threaded mode).
func (p *EventLoopThreadPool) Start(numThreads int) error {
	for i := 0; i < numThreads; i++ {
		th := NewEventLoopThread(p.opts...)
		loop, err := th.Start()
		if err != nil {
			p.Stop()
			return err
		}
		p.threads = append(p.threads, th)
		p.loops = append(p.loops, loop)
	}
	return nil
}

// GetNextLoop returns the next I/O loop in round-robin order, or baseLoop
// if the pool has no worker threads.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// GetLoopForHash returns a loop selected by hash, deterministically mapping
// the same hash to the same loop across calls.
//
// Open question decision (SPEC_FULL.md #3 / REDESIGN FLAGS): the source
// uses bitwise AND with loops_.size(), which is only correct for
// power-of-two pool sizes. This implementation uses modulo, as the
// REDESIGN FLAG instructs, so it behaves correctly for every pool size.
func (p *EventLoopThreadPool) GetLoopForHash(hash int) *EventLoop {
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	if hash < 0 {
		hash = -hash
	}
	return p.loops[hash%len(p.loops)]
}

// AllLoops returns every worker loop, or just baseLoop if the pool has no
// worker threads.
func (p *EventLoopThreadPool) AllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Stop quits and joins every worker thread.
func (p *EventLoopThreadPool) Stop() {
	for _, th := range p.threads {
		th.Stop()
	}
}
