package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/driftnet/reactor/buffer"
	"github.com/driftnet/reactor/netaddr"
)

// socketPair returns two connected, non-blocking AF_UNIX stream fds, a
// lightweight stand-in for a TCP socket pair that still exercises
// Connection's actual read(2)/write(2) calls.
func socketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestConnectionEchoesMessage(t *testing.T) {
	loop := newRunningLoop(t)
	connFd, peerFd := socketPair(t)

	conn := NewConnection(loop, "echo-test", connFd, netaddr.InetAddress{}, netaddr.InetAddress{})
	received := make(chan string, 1)
	conn.SetMessageCallback(func(c *Connection, data *buffer.Buffer, _ time.Time) {
		received <- data.RetrieveAllString()
	})
	conn.connectEstablished()

	_, err := unix.Write(peerFd, []byte("hello reactor"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "hello reactor", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message callback never fired")
	}
}

func TestConnectionHandleCloseOnZeroByteRead(t *testing.T) {
	loop := newRunningLoop(t)
	connFd, peerFd := socketPair(t)

	conn := NewConnection(loop, "close-test", connFd, netaddr.InetAddress{}, netaddr.InetAddress{})
	closed := make(chan struct{})
	conn.SetConnectionCallback(func(c *Connection) {
		if c.State() == StateDisconnected {
			close(closed)
		}
	})
	conn.connectEstablished()

	require.NoError(t, unix.Close(peerFd))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never observed peer close")
	}
	assert.Equal(t, StateDisconnected, conn.State())
}

// TestSendOverFullSendBufferDeliversExactBytesOnce forces writeFd's direct
// attempt (and, via handleWrite, its buffered-drain retries) to hit a full
// kernel send buffer partway through a large payload. It pins that no bytes
// are duplicated or dropped across that partial-write boundary.
func TestSendOverFullSendBufferDeliversExactBytesOnce(t *testing.T) {
	loop := newRunningLoop(t)
	connFd, peerFd := socketPair(t)

	require.NoError(t, unix.SetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))

	conn := NewConnection(loop, "partial-write-test", connFd, netaddr.InetAddress{}, netaddr.InetAddress{})
	conn.state.Store(int32(StateConnected))

	const payloadSize = 1 << 20 // far larger than the shrunk send buffer
	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, payloadSize)
		total := 0
		for total < payloadSize {
			n, err := unix.Read(peerFd, buf[total:])
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					time.Sleep(time.Millisecond)
					continue
				}
				break
			}
			if n <= 0 {
				break
			}
			total += n
		}
		received <- buf[:total]
	}()

	conn.Send(payload)

	select {
	case got := <-received:
		require.Len(t, got, payloadSize)
		assert.Equal(t, payload, got)
	case <-time.After(5 * time.Second):
		t.Fatal("peer never received the full payload")
	}
}

func TestSendInLoopAppendsResidualUnconditionally(t *testing.T) {
	// Pins Open Question decision #1: when direct write is skipped because
	// write-interest is already pending, every residual byte is appended to
	// the output buffer regardless of high-water-mark crossing.
	loop := newRunningLoop(t)
	connFd, _ := socketPair(t)

	conn := NewConnection(loop, "send-test", connFd, netaddr.InetAddress{}, netaddr.InetAddress{})
	conn.highWaterMark = 1 << 20 // effectively unreachable for this payload
	conn.state.Store(int32(StateConnected))

	done := make(chan struct{})
	loop.RunInLoop(func() {
		conn.channel.EnableWriting() // forces sendInLoop onto the buffering path
		payload := make([]byte, 2000)
		conn.sendInLoop(payload)
		assert.Equal(t, 2000, conn.outputBuffer.ReadableBytes())
		close(done)
	})
	<-done
}

func TestSendInLoopFiresHighWaterMarkCallbackOnceOnCrossing(t *testing.T) {
	loop := newRunningLoop(t)
	connFd, _ := socketPair(t)

	conn := NewConnection(loop, "hwm-test", connFd, netaddr.InetAddress{}, netaddr.InetAddress{})
	conn.state.Store(int32(StateConnected))

	var calls int
	lastSize := make(chan int, 4)
	conn.SetHighWaterMarkCallback(func(c *Connection, pending int) {
		calls++
		lastSize <- pending
	}, 1024)

	done := make(chan struct{})
	loop.RunInLoop(func() {
		conn.channel.EnableWriting()
		conn.sendInLoop(make([]byte, 2000))
		close(done)
	})
	<-done

	select {
	case size := <-lastSize:
		assert.GreaterOrEqual(t, size, 1024)
	case <-time.After(2 * time.Second):
		t.Fatal("high-water-mark callback never fired")
	}

	// A second send that keeps the buffer above the mark must not re-fire.
	done2 := make(chan struct{})
	loop.RunInLoop(func() {
		conn.sendInLoop(make([]byte, 100))
		close(done2)
	})
	<-done2

	select {
	case <-lastSize:
		t.Fatal("high-water-mark callback fired again while already above the mark")
	case <-time.After(200 * time.Millisecond):
	}
}
