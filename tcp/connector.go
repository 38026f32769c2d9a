package tcp

import (
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/driftnet/reactor/netaddr"
	"github.com/driftnet/reactor/reactor"
	"github.com/driftnet/reactor/rlog"
)

// ConnectorState is a Connector's position in the non-blocking connect
// state machine spec.md §4.6 names.
type ConnectorState int32

const (
	ConnectorDisconnected ConnectorState = iota
	ConnectorConnecting
	ConnectorConnected
)

const (
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// NewConnectionDialCallback hands a Connector's successfully connected fd
// up to the owning Client.
type NewConnectionDialCallback func(fd int, peerAddr netaddr.InetAddress)

// Connector drives a non-blocking connect(2) against one server address,
// retrying with exponential backoff on transient failure, per spec.md
// §4.6.
type Connector struct {
	loop *reactor.EventLoop
	addr netaddr.InetAddress

	state      atomic.Int32
	connect    atomic.Bool // reconnect intent; checked by every scheduled continuation
	retryDelay time.Duration

	channel *reactor.Channel
	fd      int

	newConnectionCallback NewConnectionDialCallback
	log                   *rlog.Logger
}

// NewConnector builds a Connector targeting addr. Call Start to begin
// dialing.
func NewConnector(loop *reactor.EventLoop, addr netaddr.InetAddress) *Connector {
	c := &Connector{
		loop: loop,
		addr: addr,
		log:  rlog.Default(),
	}
	c.state.Store(int32(ConnectorDisconnected))
	c.fd = -1
	return c
}

// SetNewConnectionCallback installs the handler invoked once connect(2)
// succeeds.
func (c *Connector) SetNewConnectionCallback(cb NewConnectionDialCallback) {
	c.newConnectionCallback = cb
}

// Start sets reconnect intent and posts an initial connect attempt to the
// owning loop.
func (c *Connector) Start() {
	c.connect.Store(true)
	c.retryDelay = initialRetryDelay
	c.loop.RunInLoop(c.connectInLoop)
}

// Stop disables reconnect intent; if mid-connect, discards the Channel and
// closes the fd.
func (c *Connector) Stop() {
	c.connect.Store(false)
	c.loop.RunInLoop(func() {
		if ConnectorState(c.state.Load()) == ConnectorConnecting {
			c.state.Store(int32(ConnectorDisconnected))
			c.removeAndResetChannel()
			_ = unix.Close(c.fd)
			c.fd = -1
		}
	})
}

func (c *Connector) connectInLoop() {
	c.loop.AssertInLoopThread()
	if !c.connect.Load() {
		return
	}

	fd, err := newRawNonBlockingSocket(c.addr.IsIPv6())
	if err != nil {
		logSystemError(c.log, "connector socket", err)
		return
	}

	sa := sockaddrFor(c.addr)
	err = unix.Connect(fd, sa)
	c.handleConnectErrno(fd, err)
}

// handleConnectErrno classifies connect(2)'s result into the three buckets
// spec.md §4.6 names.
func (c *Connector) handleConnectErrno(fd int, err error) {
	switch {
	case err == nil, errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR), errors.Is(err, unix.EISCONN):
		c.connecting(fd)

	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EADDRINUSE), errors.Is(err, unix.EADDRNOTAVAIL),
		errors.Is(err, unix.ECONNREFUSED), errors.Is(err, unix.ENETUNREACH):
		_ = unix.Close(fd)
		c.retry()

	default:
		_ = unix.Close(fd)
		logSystemError(c.log, "connect", err)
	}
}

func (c *Connector) connecting(fd int) {
	c.state.Store(int32(ConnectorConnecting))
	c.fd = fd
	c.channel = reactor.NewChannel(c.loop, fd)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.EnableWriting()
}

// handleWrite inspects SO_ERROR once the connecting socket becomes
// writable, guards against a self-connect, and either completes the
// connection or retries.
func (c *Connector) handleWrite() {
	c.loop.AssertInLoopThread()
	if ConnectorState(c.state.Load()) != ConnectorConnecting {
		return
	}

	fd := c.fd
	c.removeAndResetChannel()

	s := newSocket(fd)
	errno, err := s.GetSockError()
	if err != nil || errno != 0 {
		_ = s.Close()
		c.retry()
		return
	}

	local, _ := s.LocalAddr()
	peer, _ := s.PeerAddr()
	if local.AddrPort() == peer.AddrPort() {
		// self-connect: the kernel looped our SYN back to us.
		_ = s.Close()
		c.retry()
		return
	}

	c.state.Store(int32(ConnectorConnected))
	if c.connect.Load() && c.newConnectionCallback != nil {
		c.newConnectionCallback(fd, peer)
	} else {
		_ = s.Close()
	}
}

func (c *Connector) handleError() {
	c.loop.AssertInLoopThread()
	if ConnectorState(c.state.Load()) != ConnectorConnecting {
		return
	}
	fd := c.fd
	c.removeAndResetChannel()
	s := newSocket(fd)
	errno, _ := s.GetSockError()
	c.log.Err().Int("errno", errno).Log("connector: writable channel reported error")
	_ = s.Close()
	c.retry()
}

func (c *Connector) removeAndResetChannel() {
	if c.channel == nil {
		return
	}
	c.channel.DisableAll()
	if c.loop.HasChannel(c.channel) {
		c.channel.Remove()
	}
	c.channel = nil
}

// retry is called once the dead fd has already been closed by its caller.
// It schedules a restart via the timer queue after the current backoff,
// then doubles the backoff (capped at 30s), honouring connect intent both
// now and when the scheduled restart actually runs.
func (c *Connector) retry() {
	c.state.Store(int32(ConnectorDisconnected))
	if !c.connect.Load() {
		return
	}
	delay := c.retryDelay
	c.log.Info().Dur("delay", delay).Log("connector: scheduling retry")
	c.loop.RunAfter(delay, func() {
		if c.connect.Load() {
			c.connectInLoop()
		}
	})
	c.retryDelay *= 2
	if c.retryDelay > maxRetryDelay {
		c.retryDelay = maxRetryDelay
	}
}

func newRawNonBlockingSocket(ipv6 bool) (int, error) {
	family := unix.AF_INET
	if ipv6 {
		family = unix.AF_INET6
	}
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}
