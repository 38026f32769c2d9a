package reactor

import (
	"sync/atomic"
	"time"
)

// minTimerLead is the floor spec.md §4.4 "howMuchTimeFromNow" applies so
// the kernel timer is never armed for a moment already in the past.
const minTimerLead = 100 * time.Microsecond

var timerSequence atomic.Int64

// nextSequence returns a fresh, monotonically increasing sequence number,
// used to disambiguate timers sharing an identical expiration in the
// compound (expiration, sequence) ordering key spec.md §3 requires.
func nextSequence() int64 { return timerSequence.Add(1) }

// timer is one scheduled callback, carrying everything TimerQueue needs to
// order, fire and (for repeaters) rearm it. See spec.md §3 "Timer".
type timer struct {
	callback func()
	when     time.Time
	interval time.Duration // 0 means one-shot
	repeat   bool
	sequence int64
}

func newTimer(cb func(), when time.Time, interval time.Duration) *timer {
	return &timer{
		callback: cb,
		when:     when,
		interval: interval,
		repeat:   interval > 0,
		sequence: nextSequence(),
	}
}

func (t *timer) restart(now time.Time) {
	if t.repeat {
		t.when = now.Add(t.interval)
	} else {
		t.when = time.Time{}
	}
}

// timerKey is the compound (expiration, sequence) ordering key spec.md §3
// uses for the primary ordered structure, tolerating equal timestamps.
type timerKey struct {
	when     time.Time
	sequence int64
}

func (k timerKey) less(other timerKey) bool {
	if k.when.Equal(other.when) {
		return k.sequence < other.sequence
	}
	return k.when.Before(other.when)
}

// TimerId identifies a previously scheduled timer for cancellation. It
// carries the timer's sequence rather than a bare pointer so that
// cancelling a TimerId whose timer has already fired and been recycled is
// always a well-defined no-op, matching original_source/src/net/include/
// TimerId.h's (Timer*, int64 sequence) pair.
type TimerId struct {
	sequence int64
	when     time.Time
}
