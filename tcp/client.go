package tcp

import (
	"sync"
	"sync/atomic"

	"github.com/driftnet/reactor/netaddr"
	"github.com/driftnet/reactor/reactor"
	"github.com/driftnet/reactor/rlog"
)

// Client is a TcpClient: a Connector plus at most one live Connection, per
// spec.md §4.9.
type Client struct {
	loop      *reactor.EventLoop
	name      string
	connector *Connector

	retry       atomic.Bool
	connectFlag atomic.Bool // connect intent, mirrors spec.md's connect_

	mu   sync.Mutex
	conn *Connection

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	log *rlog.Logger
}

// NewClient builds a Client targeting addr on loop. Call Connect to start
// dialing.
func NewClient(loop *reactor.EventLoop, name string, addr netaddr.InetAddress) *Client {
	c := &Client{
		loop:      loop,
		name:      name,
		connector: NewConnector(loop, addr),
		log:       rlog.Default(),
	}
	c.connector.SetNewConnectionCallback(c.newConnection)
	return c
}

func (c *Client) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *Client) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *Client) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }

// SetRetry enables or disables automatic reconnection after a close.
func (c *Client) SetRetry(on bool) { c.retry.Store(on) }

// Connect sets connect intent and starts the Connector.
func (c *Client) Connect() {
	c.connectFlag.Store(true)
	c.connector.Start()
}

// Connection returns the currently live connection, or nil.
func (c *Client) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) newConnection(fd int, peerAddr netaddr.InetAddress) {
	c.loop.AssertInLoopThread()

	localSock := newSocket(fd)
	localAddr, _ := localSock.LocalAddr()

	conn := NewConnection(c.loop, c.name, fd, localAddr, peerAddr)
	conn.SetConnectionCallback(c.connectionCallback)
	conn.SetMessageCallback(c.messageCallback)
	conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	conn.SetCloseCallback(c.removeConnection)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.connectEstablished()
}

// removeConnection clears the stored connection and, if retry is enabled
// and connect intent is still set, restarts the Connector, per spec.md
// §4.9.
func (c *Client) removeConnection(conn *Connection) {
	c.loop.QueueInLoop(func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		conn.connectDestroyed()

		if c.retry.Load() && c.connectFlag.Load() {
			c.connector.Start()
		}
	})
}

// Disconnect tears the client down. If a connection exists it is
// force-closed, and its close callback (removeConnection) defers
// connectDestroyed; otherwise the Connector is stopped directly.
func (c *Client) Disconnect() {
	c.connectFlag.Store(false)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.ForceClose()
		return
	}
	c.connector.Stop()
}
