//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

const epollInitialEventBufSize = 16

// epollPoller is the default readiness-list Poller variant, grounded on
// eventloop/poller_linux.go's FastPoller (EpollCreate1/EpollCtl/EpollWait),
// generalized from FastPoller's direct array indexing to an fd→Channel map
// plus the channel-index state machine spec.md §4.2 specifies, since this
// Poller must support an arbitrary, sparse universe of fds (listening
// sockets, accepted connections, timers, the wakeup fd) rather than a
// single loop's small bounded set.
type epollPoller struct {
	loop     *EventLoop
	epfd     int
	eventBuf []unix.EpollEvent
	channels map[int]*Channel
}

func newEpollPoller(loop *EventLoop) (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		loop:     loop,
		epfd:     epfd,
		eventBuf: make([]unix.EpollEvent, epollInitialEventBufSize),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *epollPoller) poll(timeoutMs int, active *[]*Channel) (time.Time, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, err
	}
	if n == len(p.eventBuf) {
		// The kernel filled the buffer; it may have more events than we
		// asked for room for. Double the buffer for the next call.
		p.eventBuf = make([]unix.EpollEvent, len(p.eventBuf)*2)
	}
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.setRevents(epollToEvents(ev.Events))
		*active = append(*active, ch)
	}
	return now, nil
}

func (p *epollPoller) updateChannel(c *Channel) {
	switch c.index.epoll {
	case epollIndexNew, epollIndexDeleted:
		p.channels[c.fd] = c
		if !c.IsNoneEvent() {
			_ = p.epollCtl(unix.EPOLL_CTL_ADD, c)
			c.index.epoll = epollIndexAdded
		}
	case epollIndexAdded:
		if c.IsNoneEvent() {
			_ = p.epollCtl(unix.EPOLL_CTL_DEL, c)
			c.index.epoll = epollIndexDeleted
		} else {
			_ = p.epollCtl(unix.EPOLL_CTL_MOD, c)
		}
	}
}

func (p *epollPoller) removeChannel(c *Channel) {
	if !c.IsNoneEvent() {
		panic("reactor: removeChannel called on a Channel with non-empty interest")
	}
	delete(p.channels, c.fd)
	if c.index.epoll == epollIndexAdded {
		_ = p.epollCtl(unix.EPOLL_CTL_DEL, c)
	}
	c.index.epoll = epollIndexNew
}

func (p *epollPoller) hasChannel(c *Channel) bool {
	existing, ok := p.channels[c.fd]
	return ok && existing == c
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

func (p *epollPoller) epollCtl(op int, c *Channel) error {
	ev := unix.EpollEvent{
		Events: eventsToEpoll(c.events),
		Fd:     int32(c.fd),
	}
	return unix.EpollCtl(p.epfd, op, c.fd, &ev)
}

func eventsToEpoll(ev Events) uint32 {
	var out uint32
	if ev.has(EventReadable) {
		out |= unix.EPOLLIN
	}
	if ev.has(EventPriority) {
		out |= unix.EPOLLPRI
	}
	if ev.has(EventWritable) {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEvents(raw uint32) Events {
	var ev Events
	if raw&unix.EPOLLIN != 0 {
		ev |= EventReadable
	}
	if raw&unix.EPOLLPRI != 0 {
		ev |= EventPriority
	}
	if raw&unix.EPOLLOUT != 0 {
		ev |= EventWritable
	}
	if raw&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if raw&unix.EPOLLHUP != 0 {
		ev |= EventHangup
	}
	if raw&unix.EPOLLRDHUP != 0 {
		ev |= EventReadHangup
	}
	return ev
}
