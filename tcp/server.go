package tcp

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/driftnet/reactor/netaddr"
	"github.com/driftnet/reactor/reactor"
	"github.com/driftnet/reactor/rlog"
)

// Server is a TcpServer: one Acceptor on a base loop plus an
// EventLoopThreadPool of I/O loops, per spec.md §4.8.
type Server struct {
	baseLoop *reactor.EventLoop
	name     string

	acceptor *Acceptor
	pool     *reactor.EventLoopThreadPool

	started atomic.Bool

	mu          sync.Mutex
	connections map[string]*Connection
	nextConnID  int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMark         int

	log *rlog.Logger
}

// NewServer binds addr on baseLoop. reusePort is forwarded to the
// Acceptor's SO_REUSEPORT toggle.
func NewServer(baseLoop *reactor.EventLoop, name string, addr netaddr.InetAddress, reusePort bool) (*Server, error) {
	acceptor, err := NewAcceptor(baseLoop, addr, reusePort)
	if err != nil {
		return nil, err
	}
	s := &Server{
		baseLoop:      baseLoop,
		name:          name,
		acceptor:      acceptor,
		pool:          reactor.NewEventLoopThreadPool(baseLoop),
		connections:   make(map[string]*Connection),
		highWaterMark: defaultHighWaterMark,
		log:           rlog.Default(),
	}
	acceptor.SetNewConnectionCallback(s.newConnection)
	return s, nil
}

func (s *Server) SetConnectionCallback(cb ConnectionCallback)       { s.connectionCallback = cb }
func (s *Server) SetMessageCallback(cb MessageCallback)             { s.messageCallback = cb }
func (s *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }
func (s *Server) SetHighWaterMark(n int)                            { s.highWaterMark = n }

// Addr returns the listening socket's bound local address.
func (s *Server) Addr() (netaddr.InetAddress, error) { return s.acceptor.Addr() }

// SetIOThreads sets the number of I/O loops the thread pool spins up.
// Must be called before Start.
func (s *Server) SetIOThreads(n int) error { return s.pool.Start(n) }

// Start enables accepting. If SetIOThreads was not called first, the pool
// has zero extra I/O threads and the base loop does everything.
// Idempotent.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.baseLoop.RunInLoop(s.acceptor.Listen)
}

func (s *Server) newConnection(fd int, peerAddr netaddr.InetAddress) {
	s.baseLoop.AssertInLoopThread()

	ioLoop := s.pool.GetNextLoop()

	s.mu.Lock()
	s.nextConnID++
	name := fmt.Sprintf("%s-conn#%d", s.name, s.nextConnID)
	s.mu.Unlock()

	localSock := newSocket(fd)
	localAddr, _ := localSock.LocalAddr()

	conn := NewConnection(ioLoop, name, fd, localAddr, peerAddr)
	conn.highWaterMark = s.highWaterMark
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetCloseCallback(s.removeConnection)

	s.mu.Lock()
	s.connections[name] = conn
	s.mu.Unlock()

	ioLoop.RunInLoop(conn.connectEstablished)
}

// removeConnection re-posts removal to the base loop, per spec.md §4.8,
// then schedules connectDestroyed on the connection's own I/O loop. The
// closure's capture of conn keeps it alive until destruction completes.
func (s *Server) removeConnection(conn *Connection) {
	s.baseLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.connections, conn.Name())
		s.mu.Unlock()
		conn.Loop().QueueInLoop(conn.connectDestroyed)
	})
}

// Close stops accepting and force-closes every live connection.
func (s *Server) Close() error {
	err := s.acceptor.Close()
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.ForceClose()
	}
	s.pool.Stop()
	return err
}
