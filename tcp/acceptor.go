package tcp

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-catrate"

	"github.com/driftnet/reactor/netaddr"
	"github.com/driftnet/reactor/reactor"
	"github.com/driftnet/reactor/rlog"
)

// NewConnectionCallback hands an Acceptor's accepted fd and peer address up
// to the owning Server.
type NewConnectionCallback func(fd int, peerAddr netaddr.InetAddress)

// emfileLogCategory is the catrate.Limiter category the Acceptor uses to
// throttle its EMFILE warning line; the recovery action itself is
// unconditional, only the logging of it is rate-limited.
const emfileLogCategory = "accept-emfile"

// Acceptor owns a listening socket and its readable-event Channel, per
// spec.md §4.5. SO_REUSEADDR is always set; SO_REUSEPORT is optional.
type Acceptor struct {
	loop    *reactor.EventLoop
	sock    *socket
	channel *reactor.Channel
	ipv6    bool

	idleFd int // pre-opened placeholder, reopened after each EMFILE recovery

	newConnectionCallback NewConnectionCallback

	logLimiter *catrate.Limiter
	log        *rlog.Logger
}

// NewAcceptor binds and listens on addr, leaving read interest disabled
// until Listen is called.
func NewAcceptor(loop *reactor.EventLoop, addr netaddr.InetAddress, reusePort bool) (*Acceptor, error) {
	sock, err := newNonBlockingSocket(addr.IsIPv6())
	if err != nil {
		return nil, err
	}
	if err := sock.BindListen(addr, reusePort); err != nil {
		_ = sock.Close()
		return nil, err
	}

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}

	a := &Acceptor{
		loop:   loop,
		sock:   sock,
		ipv6:   addr.IsIPv6(),
		idleFd: idleFd,
		// one warning line per ten-second window is enough to show the
		// operator overload is ongoing without flooding the log sink.
		logLimiter: catrate.NewLimiter(map[time.Duration]int{10 * time.Second: 1}),
		log:        rlog.Default(),
	}
	a.channel = reactor.NewChannel(loop, sock.Fd())
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// SetNewConnectionCallback installs the handler invoked with each accepted
// fd and peer address. If nil, accepted connections are closed immediately.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) { a.newConnectionCallback = cb }

// Listen enables read interest on the listening socket. Must run on the
// owning loop's thread.
func (a *Acceptor) Listen() {
	a.loop.AssertInLoopThread()
	a.channel.EnableReading()
}

// Addr returns the listening socket's bound local address, useful after
// binding to an ephemeral port (port 0).
func (a *Acceptor) Addr() (netaddr.InetAddress, error) { return a.sock.LocalAddr() }

// Close removes the Channel and closes both the listening socket and the
// idle-fd reserve. The Channel is removed on the owning loop, which must
// still be running; Close waits for that before closing the descriptors.
func (a *Acceptor) Close() error {
	removed := make(chan struct{})
	a.loop.RunInLoop(func() {
		a.channel.DisableAll()
		if a.loop.HasChannel(a.channel) {
			a.channel.Remove()
		}
		close(removed)
	})
	<-removed
	err1 := a.sock.Close()
	err2 := unix.Close(a.idleFd)
	if err1 != nil {
		return err1
	}
	return err2
}

// handleRead implements spec.md §4.5's accept loop, including the
// idle-fd-reserve technique for surviving EMFILE without busy-looping.
func (a *Acceptor) handleRead(time.Time) {
	a.loop.AssertInLoopThread()

	fd, peer, err := a.sock.Accept4(unix.SOCK_NONBLOCK | unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) {
			a.handleEMFILE()
			return
		}
		logSystemError(a.log, "accept4", err)
		return
	}

	if a.newConnectionCallback != nil {
		a.newConnectionCallback(fd, peer)
	} else {
		_ = unix.Close(fd)
	}
}

// handleEMFILE releases the idle-fd reserve, accepts and immediately closes
// the overflow connection (freeing one kernel fd slot), then re-opens the
// reserve so the technique can be used again on the next exhaustion.
func (a *Acceptor) handleEMFILE() {
	_ = unix.Close(a.idleFd)
	nfd, _, err := unix.Accept4(a.sock.Fd(), unix.SOCK_CLOEXEC)
	if err == nil {
		_ = unix.Close(nfd)
	}
	if _, ok := a.logLimiter.Allow(emfileLogCategory); ok {
		a.log.Warning().Log("accept: file descriptor exhaustion, shed one overflow connection")
	}
	idleFd, reopenErr := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if reopenErr != nil {
		logSystemError(a.log, "reopen idle fd reserve", reopenErr)
		return
	}
	a.idleFd = idleFd
}
