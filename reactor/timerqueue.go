package reactor

import (
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// timerQueue owns a kernel-timerfd-backed ordered set of expirations, per
// spec.md §4.4, grounded on original_source/src/net/src/TimerQueue.cc for
// the arm/drain/expire/rearm mechanics. It maintains two structures over
// the same timers — an expiration-ordered slice (the primary index) and a
// by-sequence map (the active-timer index, used by cancel) — which
// spec.md §8 requires to always have equal cardinality.
type timerQueue struct {
	loop *EventLoop

	timerFd int
	channel *Channel

	ordered []*timer       // sorted by (when, sequence)
	active  map[int64]bool // sequence -> present, mirrors ordered's membership

	callingExpiredTimers bool
	cancelingTimers      map[int64]bool
}

func newTimerQueue(loop *EventLoop) (*timerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	tq := &timerQueue{
		loop:            loop,
		timerFd:         fd,
		active:          make(map[int64]bool),
		cancelingTimers: make(map[int64]bool),
	}
	tq.channel = NewChannel(loop, fd)
	tq.channel.SetReadCallback(tq.handleRead)
	return tq, nil
}

func (tq *timerQueue) close() error {
	tq.channel.DisableAll()
	tq.channel.Remove()
	return unix.Close(tq.timerFd)
}

// addTimer enqueues cb to run at when (repeating every interval if
// interval > 0), always executed via the owning loop's runInLoop so the
// ordered structures are only ever mutated on the loop thread.
func (tq *timerQueue) addTimer(cb func(), when time.Time, interval time.Duration) TimerId {
	t := newTimer(cb, when, interval)
	id := TimerId{sequence: t.sequence, when: when}
	tq.loop.runInLoop(func() {
		tq.insert(t)
	})
	return id
}

// cancel removes a previously scheduled timer. If the timer is currently
// executing as part of the expired batch (i.e. cancel is called from
// inside the timer's own callback), the cancellation is recorded in
// cancelingTimers so a repeating timer is not rearmed, per spec.md §4.4.
func (tq *timerQueue) cancel(id TimerId) {
	tq.loop.runInLoop(func() {
		if tq.active[id.sequence] {
			tq.erase(id.sequence)
			return
		}
		if tq.callingExpiredTimers {
			tq.cancelingTimers[id.sequence] = true
		}
	})
}

func (tq *timerQueue) insert(t *timer) {
	key := timerKey{when: t.when, sequence: t.sequence}
	i := sort.Search(len(tq.ordered), func(i int) bool {
		return !(timerKey{when: tq.ordered[i].when, sequence: tq.ordered[i].sequence}).less(key)
	})
	tq.ordered = append(tq.ordered, nil)
	copy(tq.ordered[i+1:], tq.ordered[i:])
	tq.ordered[i] = t
	tq.active[t.sequence] = true

	if i == 0 {
		tq.rearm(t.when)
	}
}

func (tq *timerQueue) erase(sequence int64) {
	for i, t := range tq.ordered {
		if t.sequence == sequence {
			tq.ordered = append(tq.ordered[:i], tq.ordered[i+1:]...)
			break
		}
	}
	delete(tq.active, sequence)
}

// handleRead is the timerfd Channel's read callback: drain the expiration
// counter, pull out every timer whose expiration has passed, run their
// callbacks, then rearm repeaters not cancelled from within their own
// callback and rearm the kernel timer to the new earliest expiration.
func (tq *timerQueue) handleRead() {
	tq.loop.assertInLoopThread()
	drainTimerFd(tq.timerFd)

	now := time.Now()
	expired := tq.popExpired(now)

	tq.callingExpiredTimers = true
	for k := range tq.cancelingTimers {
		delete(tq.cancelingTimers, k)
	}
	for _, t := range expired {
		t.callback()
	}
	tq.callingExpiredTimers = false

	tq.reset(expired, now)
}

func (tq *timerQueue) popExpired(now time.Time) []*timer {
	i := sort.Search(len(tq.ordered), func(i int) bool {
		return tq.ordered[i].when.After(now)
	})
	expired := append([]*timer(nil), tq.ordered[:i]...)
	tq.ordered = tq.ordered[i:]
	for _, t := range expired {
		delete(tq.active, t.sequence)
	}
	return expired
}

func (tq *timerQueue) reset(expired []*timer, now time.Time) {
	for _, t := range expired {
		if t.repeat && !tq.cancelingTimers[t.sequence] {
			t.restart(now)
			tq.insert(t)
		}
	}
	if len(tq.ordered) > 0 {
		tq.rearm(tq.earliest())
	}
}

func (tq *timerQueue) earliest() time.Time {
	return tq.ordered[0].when
}

// rearm programs the kernel timerfd to fire at when, clamped to at least
// minTimerLead in the future so it is never armed for a past moment.
func (tq *timerQueue) rearm(when time.Time) {
	d := time.Until(when)
	if d < minTimerLead {
		d = minTimerLead
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(tq.timerFd, 0, &spec, nil); err != nil {
		logSystemError(tq.loop.logger(), "timerfd_settime", err)
	}
}

func drainTimerFd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
