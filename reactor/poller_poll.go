//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the level-triggered array-scan Poller variant selected by
// the environment toggle named in spec.md §6, grounded on
// original_source/src/net/src/PollPoller.cc: a parallel vector of
// {fd,events,revents} triples where the Channel's index is its slot.
// Disabling a channel negates its fd to -(fd+1) so the kernel ignores it
// without losing the slot, and removal swap-pops the slot, updating the
// swapped neighbour's index.
//
// Open question decision (SPEC_FULL.md #2): poll scans the entire fds
// slice on every call with no early exit once the active-channel count is
// reached. This is preserved as a documented choice, not fixed: it keeps
// the swap-pop removal invariant (every live channel's index is always
// exactly its slot) trivial to reason about, at the cost of O(registered
// fds) per call, which is acceptable for the level-triggered fallback path.
type pollPoller struct {
	loop     *EventLoop
	fds      []unix.PollFd
	channels []*Channel // channels[i] corresponds to fds[i]; index into both
}

func newPollPoller(loop *EventLoop) *pollPoller {
	return &pollPoller{loop: loop}
}

func (p *pollPoller) poll(timeoutMs int, active *[]*Channel) (time.Time, error) {
	n, err := unix.Poll(p.fds, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, err
	}
	if n <= 0 {
		return now, nil
	}
	for i := range p.fds {
		if p.fds[i].Revents == 0 {
			continue
		}
		// Preserve the documented full-scan behavior: keep scanning even
		// after every active channel has been located, rather than
		// early-exiting once a running count reaches n.
		ch := p.channels[i]
		ch.setRevents(pollToEvents(p.fds[i].Revents))
		*active = append(*active, ch)
		p.fds[i].Revents = 0
	}
	return now, nil
}

func (p *pollPoller) updateChannel(c *Channel) {
	if c.index.pollSlot < 0 {
		// New registration: append a fresh slot.
		c.index.pollSlot = len(p.fds)
		p.fds = append(p.fds, unix.PollFd{Fd: int32(c.fd), Events: eventsToPoll(c.events)})
		p.channels = append(p.channels, c)
		return
	}
	slot := c.index.pollSlot
	if c.IsNoneEvent() {
		// Negate the fd so the kernel ignores this slot without losing it,
		// per the array-scan variant's disable technique.
		p.fds[slot].Fd = int32(-(c.fd + 1))
	} else {
		p.fds[slot].Fd = int32(c.fd)
	}
	p.fds[slot].Events = eventsToPoll(c.events)
}

func (p *pollPoller) removeChannel(c *Channel) {
	if !c.IsNoneEvent() {
		panic("reactor: removeChannel called on a Channel with non-empty interest")
	}
	slot := c.index.pollSlot
	last := len(p.fds) - 1
	if slot != last {
		p.fds[slot] = p.fds[last]
		p.channels[slot] = p.channels[last]
		p.channels[slot].index.pollSlot = slot
	}
	p.fds = p.fds[:last]
	p.channels = p.channels[:last]
	c.index.pollSlot = -1
}

func (p *pollPoller) hasChannel(c *Channel) bool {
	return c.index.pollSlot >= 0 && c.index.pollSlot < len(p.channels) && p.channels[c.index.pollSlot] == c
}

func (p *pollPoller) close() error { return nil }

func eventsToPoll(ev Events) int16 {
	var out int16
	if ev.has(EventReadable) {
		out |= unix.POLLIN
	}
	if ev.has(EventPriority) {
		out |= unix.POLLPRI
	}
	if ev.has(EventWritable) {
		out |= unix.POLLOUT
	}
	return out
}

func pollToEvents(raw int16) Events {
	var ev Events
	if raw&unix.POLLIN != 0 {
		ev |= EventReadable
	}
	if raw&unix.POLLPRI != 0 {
		ev |= EventPriority
	}
	if raw&unix.POLLOUT != 0 {
		ev |= EventWritable
	}
	if raw&unix.POLLERR != 0 {
		ev |= EventError
	}
	if raw&unix.POLLHUP != 0 {
		ev |= EventHangup
	}
	return ev
}
