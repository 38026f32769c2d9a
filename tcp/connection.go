package tcp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftnet/reactor/buffer"
	"github.com/driftnet/reactor/netaddr"
	"github.com/driftnet/reactor/reactor"
	"github.com/driftnet/reactor/rlog"
)

// State is a Connection's position in the Connecting -> Connected ->
// Disconnecting -> Disconnected lifecycle spec.md §4.7 names. The only
// permitted transitions are that path, plus Connecting -> Disconnected on
// immediate failure.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection is a TcpConnection: one established socket's entire state
// machine, I/O buffering and callback set. It is shared between the owning
// Server/Client, the Channel's tie liveness probe, and any in-flight queued
// functors, per spec.md §3 "Ownership summary" — callers are expected to
// hold it via a single shared pointer rather than copy it.
type Connection struct {
	loop *reactor.EventLoop
	name string

	sock    *socket
	channel *reactor.Channel

	localAddr netaddr.InetAddress
	peerAddr  netaddr.InetAddress

	state   atomic.Int32
	reading atomic.Bool
	alive   atomic.Bool // backs the Channel tie probe

	inputBuffer  *buffer.Buffer
	outputBuffer *buffer.Buffer

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback

	ctxMu sync.Mutex
	ctx   any

	log *rlog.Logger
}

// defaultHighWaterMark is the pending-output-byte threshold above which the
// high-water-mark callback fires, absent an explicit SetHighWaterMarkCallback
// call overriding it.
const defaultHighWaterMark = 64 * 1024 * 1024

// NewConnection wraps an already-connected, non-blocking fd as a Connection
// bound to loop, starting in StateConnecting. Callers (Acceptor/Connector
// via Server/Client) must call connectEstablished once callbacks are
// installed.
func NewConnection(loop *reactor.EventLoop, name string, fd int, localAddr, peerAddr netaddr.InetAddress) *Connection {
	c := &Connection{
		loop:          loop,
		name:          name,
		sock:          newSocket(fd),
		localAddr:     localAddr,
		peerAddr:      peerAddr,
		inputBuffer:   buffer.New(),
		outputBuffer:  buffer.New(),
		highWaterMark: defaultHighWaterMark,
		log:           rlog.Default(),
	}
	c.state.Store(int32(StateConnecting))
	c.alive.Store(true)

	c.channel = reactor.NewChannel(loop, fd)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.Tie(c.alive.Load)

	_ = c.sock.SetKeepAlive(false)
	return c
}

// Name returns the connection's log-friendly identifier.
func (c *Connection) Name() string { return c.name }

// Loop returns the I/O loop this connection is bound to.
func (c *Connection) Loop() *reactor.EventLoop { return c.loop }

// LocalAddr and PeerAddr return the two endpoints of the connection.
func (c *Connection) LocalAddr() netaddr.InetAddress { return c.localAddr }
func (c *Connection) PeerAddr() netaddr.InetAddress  { return c.peerAddr }

// State reports the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Connected reports whether the connection is in StateConnected.
func (c *Connection) Connected() bool { return c.State() == StateConnected }

// Context returns the opaque user value previously set via SetContext.
func (c *Connection) Context() any {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()
	return c.ctx
}

// SetContext stores an opaque user value alongside the connection.
func (c *Connection) SetContext(v any) {
	c.ctxMu.Lock()
	c.ctx = v
	c.ctxMu.Unlock()
}

func (c *Connection) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *Connection) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *Connection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *Connection) SetCloseCallback(cb CloseCallback)                 { c.closeCallback = cb }

// SetHighWaterMarkCallback installs cb and overrides the pending-bytes
// threshold that triggers it.
func (c *Connection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = mark
}

// SetTCPNoDelay toggles Nagle's algorithm on the underlying socket.
func (c *Connection) SetTCPNoDelay(on bool) error { return c.sock.SetTCPNoDelay(on) }

// SetKeepAlive toggles SO_KEEPALIVE on the underlying socket.
func (c *Connection) SetKeepAlive(on bool) error { return c.sock.SetKeepAlive(on) }

// StopRead disables read interest without altering any other state.
func (c *Connection) StopRead() {
	c.loop.RunInLoop(func() {
		if c.reading.Swap(false) {
			c.channel.DisableReading()
		}
	})
}

// StartRead re-enables read interest.
func (c *Connection) StartRead() {
	c.loop.RunInLoop(func() {
		if !c.reading.Swap(true) {
			c.channel.EnableReading()
		}
	})
}

// connectEstablished transitions Connecting -> Connected, enables reading,
// and invokes the connection callback. It must run on the owning loop.
func (c *Connection) connectEstablished() {
	c.loop.RunInLoop(func() {
		if c.State() != StateConnecting {
			return
		}
		c.state.Store(int32(StateConnected))
		c.reading.Store(true)
		c.channel.EnableReading()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	})
}

// connectDestroyed completes Channel removal. Safe to call after
// handleClose has already fired the close callback.
func (c *Connection) connectDestroyed() {
	c.loop.RunInLoop(func() {
		if c.State() == StateConnected {
			c.state.Store(int32(StateDisconnected))
			c.channel.DisableAll()
			if c.connectionCallback != nil {
				c.connectionCallback(c)
			}
		}
		c.alive.Store(false)
		if c.loop.HasChannel(c.channel) {
			c.channel.Remove()
		}
	})
}

// Send queues data for transmission, re-dispatching to the owning loop's
// thread if called from elsewhere, per spec.md §4.7 "Sending path".
func (c *Connection) Send(data []byte) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	buf := append([]byte(nil), data...)
	c.loop.QueueInLoop(func() { c.sendInLoop(buf) })
}

// sendInLoop implements spec.md §4.7's direct-write-then-buffer algorithm,
// with the Open Question #1 fix applied: any residual bytes are appended to
// the output buffer unconditionally, not only when the write crosses the
// high-water mark.
func (c *Connection) sendInLoop(data []byte) {
	c.loop.AssertInLoopThread()
	if c.State() == StateDisconnected {
		return
	}

	var (
		written  int
		writeErr error
	)
	faultOnWrite := false

	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := writeFd(c.sock.Fd(), data)
		if err != nil {
			if !isEAGAIN(err) {
				writeErr = err
				if isBrokenPipe(err) {
					faultOnWrite = true
				}
			}
		} else {
			written = n
			if written == len(data) && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		}
	}

	if writeErr != nil && !faultOnWrite {
		logSystemError(c.log, "sendInLoop write", writeErr)
	}

	residual := len(data) - written
	if faultOnWrite || residual == 0 {
		return
	}

	before := c.outputBuffer.ReadableBytes()
	c.outputBuffer.Append(data[written:])
	after := before + residual
	if before < c.highWaterMark && after >= c.highWaterMark && c.highWaterMarkCallback != nil {
		c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, after) })
	}
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// Shutdown half-closes the connection for writing once pending output has
// drained, valid only from StateConnected.
func (c *Connection) Shutdown() {
	if State(c.state.Load()) != StateConnected {
		return
	}
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		return
	}
	c.loop.RunInLoop(c.shutdownInLoop)
}

func (c *Connection) shutdownInLoop() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		_ = c.sock.ShutdownWrite()
	}
}

// ForceClose synthesizes an immediate close regardless of pending output.
func (c *Connection) ForceClose() {
	st := State(c.state.Load())
	if st == StateConnected || st == StateDisconnecting {
		c.state.Store(int32(StateDisconnecting))
		c.loop.RunInLoop(c.handleClose)
	}
}

// ForceCloseWithDelay schedules ForceClose after delay on the owning loop's
// timer queue.
func (c *Connection) ForceCloseWithDelay(delay time.Duration) {
	st := State(c.state.Load())
	if st == StateConnected || st == StateDisconnecting {
		c.state.Store(int32(StateDisconnecting))
		c.loop.RunAfter(delay, c.ForceClose)
	}
}

// handleRead implements spec.md §4.7's scatter-read path.
func (c *Connection) handleRead(receiveTime time.Time) {
	c.loop.AssertInLoopThread()
	n, err := c.inputBuffer.ReadFd(c.sock.Fd())
	switch {
	case n == 0 && err == nil:
		c.handleClose()
	case err != nil:
		if isEAGAIN(err) {
			return
		}
		logSystemError(c.log, "handleRead", err)
		c.handleError()
	default:
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTime)
		}
	}
}

// handleWrite implements spec.md §4.7's write-readiness path.
func (c *Connection) handleWrite() {
	c.loop.AssertInLoopThread()
	if !c.channel.IsWriting() {
		return
	}
	n, err := writeFd(c.sock.Fd(), c.outputBuffer.Peek())
	if err != nil {
		if isEAGAIN(err) {
			return
		}
		logSystemError(c.log, "handleWrite", err)
		return
	}
	c.outputBuffer.Retrieve(n)
	if c.outputBuffer.ReadableBytes() == 0 {
		c.channel.DisableWriting()
		if c.writeCompleteCallback != nil {
			c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

// handleClose implements spec.md §4.7's close path: state -> Disconnected,
// connection callback, then the server/client-installed close callback,
// both with this held alive through the local strong reference captured by
// the calling closures.
func (c *Connection) handleClose() {
	c.loop.AssertInLoopThread()
	if c.State() == StateDisconnected {
		return
	}
	c.state.Store(int32(StateDisconnected))
	c.channel.DisableAll()

	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *Connection) handleError() {
	errno, err := c.sock.GetSockError()
	if err != nil {
		logSystemError(c.log, "handleError getsockopt", err)
		return
	}
	c.log.Err().Str("connection", c.name).Int("errno", errno).Log("tcp connection error")
}

