// Package reactor implements the readiness-multiplexing core named in
// spec.md §1: Channel, Poller (epoll + poll variants), EventLoop,
// TimerQueue, and the EventLoopThread/EventLoopThreadPool composition that
// drives a thread-pool architecture. See spec.md §2-§5 and DESIGN.md for
// the full grounding ledger.
package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/driftnet/reactor/rlog"
)

const defaultPollTimeout = 10 * time.Second

var loopIDSeq atomic.Uint64

// EventLoop is a per-goroutine reactor: it owns exactly one Poller and one
// TimerQueue, drives the wakeup Channel needed for cross-goroutine
// handoff, and runs every callback touching its own state on a single
// goroutine. See spec.md §3 "EventLoop" and §5 "Concurrency & Resource
// Model". The zero value is not usable; construct with NewEventLoop.
type EventLoop struct {
	id uint64

	poller poller
	timers *timerQueue

	wakeupFd      int
	wakeupChannel *Channel

	ownerGoroutineID atomic.Uint64 // 0 until Loop() is running

	looping         atomic.Bool
	quitFlag        atomic.Bool
	eventHandling   atomic.Bool
	callingPending  atomic.Bool
	iteration       atomic.Uint64
	pollReturnTime  atomic.Int64 // UnixNano

	activeChannels []*Channel

	mu              sync.Mutex
	pendingFunctors []func()

	log *rlog.Logger
}

// Option configures an EventLoop at construction time.
type Option func(*loopConfig)

type loopConfig struct {
	variant Variant
	logger  *rlog.Logger
}

// WithVariant pins the Poller implementation rather than deferring to
// PollerVariantFromEnv.
func WithVariant(v Variant) Option {
	return func(c *loopConfig) { c.variant = v }
}

// WithLogger installs a logger other than rlog.Default for this loop.
func WithLogger(l *rlog.Logger) Option {
	return func(c *loopConfig) { c.logger = l }
}

// PollerVariantFromEnv reads the environment variable named in spec.md §6
// exactly once per call: if set and non-empty, it selects the
// level-triggered array-scan Poller variant, otherwise the default
// readiness-list variant.
func PollerVariantFromEnv(lookup func(string) (string, bool)) Variant {
	if lookup == nil {
		lookup = defaultEnvLookup
	}
	if v, ok := lookup(pollerEnvVar); ok && v != "" {
		return VariantPoll
	}
	return VariantEpoll
}

// NewEventLoop constructs an EventLoop. The loop owns its Poller,
// TimerQueue and wakeup Channel from this point, but none of them are
// registered with the kernel or driven until Loop() runs on the goroutine
// that will own this loop for its lifetime.
func NewEventLoop(opts ...Option) (*EventLoop, error) {
	cfg := loopConfig{variant: PollerVariantFromEnv(nil)}
	for _, o := range opts {
		o(&cfg)
	}

	l := &EventLoop{
		id:  loopIDSeq.Add(1),
		log: cfg.logger,
	}

	var p poller
	var err error
	switch cfg.variant {
	case VariantPoll:
		p = newPollPoller(l)
	default:
		p, err = newEpollPoller(l)
	}
	if err != nil {
		return nil, err
	}
	l.poller = p

	wakeupFd, err := createWakeupFd()
	if err != nil {
		_ = p.close()
		return nil, err
	}
	l.wakeupFd = wakeupFd
	l.wakeupChannel = NewChannel(l, wakeupFd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)

	timers, err := newTimerQueue(l)
	if err != nil {
		_ = p.close()
		_ = drainWakeup(wakeupFd)
		return nil, err
	}
	l.timers = timers

	return l, nil
}

func (l *EventLoop) logger() *rlog.Logger {
	if l.log != nil {
		return l.log
	}
	return rlog.Default()
}

// ID returns a process-unique identifier for this loop, useful for logging.
func (l *EventLoop) ID() uint64 { return l.id }

func (l *EventLoop) isInLoopThread() bool {
	owner := l.ownerGoroutineID.Load()
	return owner != 0 && owner == currentGoroutineID()
}

// IsInLoopThread reports whether the calling goroutine is this loop's
// owner.
func (l *EventLoop) IsInLoopThread() bool { return l.isInLoopThread() }

// AssertInLoopThread aborts the process if the calling goroutine is not
// this loop's owner. Exported for collaborators outside this package (e.g.
// tcp.Connection) that mutate state tied to a specific loop.
func (l *EventLoop) AssertInLoopThread() { l.assertInLoopThread() }

// HasChannel reports whether c is currently registered with this loop's
// Poller. Must be called from the loop's own goroutine.
func (l *EventLoop) HasChannel(c *Channel) bool { return l.hasChannel(c) }

// Loop runs the reactor: register the wakeup channel, then repeatedly
// poll, dispatch active channels, and drain pending functors, until Quit
// is observed. Loop must be called from the goroutine that will own this
// loop for its entire lifetime and must not be called re-entrantly.
func (l *EventLoop) Loop() {
	l.ownerGoroutineID.Store(currentGoroutineID())
	l.looping.Store(true)
	l.quitFlag.Store(false)
	l.wakeupChannel.EnableReading()
	l.timers.channel.EnableReading()
	defer func() {
		l.wakeupChannel.DisableAll()
		l.looping.Store(false)
	}()

	for !l.quitFlag.Load() {
		l.activeChannels = l.activeChannels[:0]
		pollReturn, err := l.poller.poll(l.pollTimeoutMs(), &l.activeChannels)
		if err != nil {
			logSystemError(l.logger(), "poller.poll", err)
			continue
		}
		l.pollReturnTime.Store(pollReturn.UnixNano())
		l.iteration.Add(1)

		l.eventHandling.Store(true)
		for _, ch := range l.activeChannels {
			ch.handleEvent(pollReturn)
		}
		l.eventHandling.Store(false)

		l.doPendingFunctors()
	}
}

func (l *EventLoop) pollTimeoutMs() int {
	return int(defaultPollTimeout / time.Millisecond)
}

// Quit signals the loop to stop after completing its current iteration.
// Calling Quit from a goroutine other than the loop's owner additionally
// wakes the loop so it observes the flag promptly instead of waiting out
// the poll timeout.
func (l *EventLoop) Quit() {
	l.quitFlag.Store(true)
	if !l.isInLoopThread() {
		l.Wakeup()
	}
}

// RunInLoop executes f on the loop's goroutine: inline if called from that
// goroutine already, otherwise queued and the loop woken, per spec.md
// §4.3.
func (l *EventLoop) RunInLoop(f func()) {
	if l.isInLoopThread() {
		f()
		return
	}
	l.QueueInLoop(f)
}

func (l *EventLoop) runInLoop(f func()) { l.RunInLoop(f) }

// QueueInLoop appends f to the pending-functor queue under the queue lock.
// It wakes the loop whenever the call did not originate on the loop's own
// goroutine, or when it does but the loop is presently inside
// doPendingFunctors — in the latter case a newly queued functor could
// otherwise wait an entire extra poll timeout before running, since the
// loop is mid-drain rather than blocked in poll. See spec.md §4.3.
func (l *EventLoop) QueueInLoop(f func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, f)
	l.mu.Unlock()

	if !l.isInLoopThread() || l.callingPending.Load() {
		l.Wakeup()
	}
}

// Wakeup writes to the wakeup fd so a blocked poll() returns promptly.
func (l *EventLoop) Wakeup() {
	if err := writeWakeup(l.wakeupFd); err != nil {
		logSystemError(l.logger(), "wakeup write", err)
	}
}

func (l *EventLoop) handleWakeup() {
	if err := drainWakeup(l.wakeupFd); err != nil {
		logSystemError(l.logger(), "wakeup drain", err)
	}
}

// doPendingFunctors swaps the queue into a local slice under the lock,
// releases the lock, then executes — so a functor that re-queues more
// work does not deadlock or starve other goroutines waiting on the lock.
func (l *EventLoop) doPendingFunctors() {
	l.callingPending.Store(true)
	defer l.callingPending.Store(false)

	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.mu.Unlock()

	for _, f := range functors {
		f()
	}
}

// updateChannel/removeChannel/hasChannel delegate to the Poller and assert
// loop-thread affinity, per spec.md §4.3.
func (l *EventLoop) updateChannel(c *Channel) {
	l.assertInLoopThread()
	l.poller.updateChannel(c)
}

func (l *EventLoop) removeChannel(c *Channel) {
	l.assertInLoopThread()
	l.poller.removeChannel(c)
}

func (l *EventLoop) hasChannel(c *Channel) bool {
	l.assertInLoopThread()
	return l.poller.hasChannel(c)
}

// RunAt schedules cb to run at the absolute time when.
func (l *EventLoop) RunAt(when time.Time, cb func()) TimerId {
	return l.timers.addTimer(cb, when, 0)
}

// RunAfter schedules cb to run once, delay from now.
func (l *EventLoop) RunAfter(delay time.Duration, cb func()) TimerId {
	return l.RunAt(time.Now().Add(delay), cb)
}

// RunEvery schedules cb to run repeatedly every interval, starting after
// one interval has elapsed.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerId {
	return l.timers.addTimer(cb, time.Now().Add(interval), interval)
}

// CancelTimer cancels a previously scheduled timer. See timerQueue.cancel
// for the in-callback-cancellation semantics.
func (l *EventLoop) CancelTimer(id TimerId) {
	l.timers.cancel(id)
}

// Close releases the loop's own file descriptors (wakeup fd, timer fd,
// poller fd). It must be called after Loop() has returned.
func (l *EventLoop) Close() error {
	var firstErr error
	if err := l.timers.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.poller.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(l.wakeupFd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
