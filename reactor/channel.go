package reactor

import "time"

// Events is a bitset of readiness states, matching spec.md §4.1's
// {readable, writable, priority, read-hangup, error, hangup}.
type Events uint32

const (
	EventNone     Events = 0
	EventReadable Events = 1 << iota
	EventPriority
	EventReadHangup
	EventWritable
	EventError
	EventHangup
)

func (e Events) has(bit Events) bool { return e&bit != 0 }

// channelIndex is the poller-specific state the Channel's "index" field
// carries. Its meaning is owned entirely by whichever Poller variant is
// driving the loop; EventLoop and Channel never interpret it, per DESIGN
// NOTES §9 "replace a sentinel integer reused as a state machine across
// polymorphic implementations with a tagged enum per variant".
type channelIndex struct {
	// epoll variant: one of epollIndexNew/Added/Deleted.
	epoll int8
	// poll variant: slot index into the Poller's fd/event array, or -1.
	pollSlot int
}

// Channel binds one file descriptor to its owning EventLoop: the current
// interest mask, the mask last returned by the poller, and the four
// dispatch callbacks. A Channel is not an I/O object — it borrows fd, never
// closes it — and must be removed from its Poller before the owner
// destroys the underlying descriptor. See spec.md §4.1.
type Channel struct {
	loop *EventLoop
	fd   int

	events      Events
	revents     Events
	index       channelIndex
	addedToLoop bool

	readCallback  func(receiveTime time.Time)
	writeCallback func()
	closeCallback func()
	errorCallback func()

	// tie is an optional liveness probe installed by the Channel's logical
	// owner (e.g. tcp.Connection). handleEvent calls it before dispatching;
	// if it reports false the owner has been destroyed and dispatch is
	// skipped. This is the Go substitute for the source's
	// std::weak_ptr<void> tie_, per DESIGN NOTES §9.
	tie func() bool

	eventHandling bool
}

// NewChannel creates a Channel for fd on loop. The Channel starts with an
// empty interest mask; call EnableReading/EnableWriting to register
// interest with the owning Poller.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: channelIndex{epoll: epollIndexNew, pollSlot: -1}}
}

// Fd returns the borrowed file descriptor.
func (c *Channel) Fd() int { return c.fd }

// SetReadCallback installs the handler invoked on readable/priority/
// read-hangup readiness.
func (c *Channel) SetReadCallback(cb func(receiveTime time.Time)) { c.readCallback = cb }

// SetWriteCallback installs the handler invoked on writable readiness.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback installs the handler invoked on hangup-without-readable.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback installs the handler invoked on the error bit.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// Tie installs a liveness probe guarding dispatch, as described on the tie
// field.
func (c *Channel) Tie(alive func() bool) { c.tie = alive }

// IsNoneEvent reports whether the interest mask is currently empty.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

// EnableReading adds EventReadable|EventPriority to the interest mask and
// pushes the change to the owning Poller.
func (c *Channel) EnableReading() {
	c.events |= EventReadable | EventPriority
	c.update()
}

// DisableReading removes the read interest.
func (c *Channel) DisableReading() {
	c.events &^= EventReadable | EventPriority
	c.update()
}

// EnableWriting adds EventWritable to the interest mask.
func (c *Channel) EnableWriting() {
	c.events |= EventWritable
	c.update()
}

// DisableWriting removes the write interest.
func (c *Channel) DisableWriting() {
	c.events &^= EventWritable
	c.update()
}

// DisableAll clears the interest mask entirely.
func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

// IsWriting reports whether write interest is currently enabled.
func (c *Channel) IsWriting() bool { return c.events.has(EventWritable) }

// IsReading reports whether read interest is currently enabled.
func (c *Channel) IsReading() bool { return c.events.has(EventReadable) }

// update pushes the current interest mask to the owning loop's Poller. It
// must run on the owning loop's thread.
func (c *Channel) update() {
	c.loop.assertInLoopThread()
	c.addedToLoop = true
	c.loop.poller.updateChannel(c)
}

// Remove deregisters the Channel from its Poller. The interest mask must
// already be empty.
func (c *Channel) Remove() {
	c.loop.assertInLoopThread()
	c.addedToLoop = false
	c.loop.poller.removeChannel(c)
}

// setRevents records the events the poller returned for this Channel in
// the most recent iteration.
func (c *Channel) setRevents(ev Events) { c.revents = ev }

// handleEvent dispatches c.revents to the installed callbacks, in the
// priority order spec.md §4.1 mandates: hangup-without-readable closes;
// error; readable/priority/read-hangup reads; writable writes. If a tie is
// installed, it is promoted first and dispatch is skipped entirely when
// promotion fails.
func (c *Channel) handleEvent(receiveTime time.Time) {
	if c.tie != nil && !c.tie() {
		return
	}
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	ev := c.revents
	if ev.has(EventHangup) && !ev.has(EventReadable) {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if ev.has(EventError) {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if ev.has(EventReadable) || ev.has(EventPriority) || ev.has(EventReadHangup) {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if ev.has(EventWritable) {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
