package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftnet/reactor/netaddr"
)

func TestAcceptorInvokesNewConnectionCallback(t *testing.T) {
	loop := newRunningLoop(t)

	acceptor, err := NewAcceptor(loop, loopbackAny(t), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = acceptor.Close() })

	accepted := make(chan netaddr.InetAddress, 1)
	acceptor.SetNewConnectionCallback(func(fd int, peer netaddr.InetAddress) {
		accepted <- peer
		_ = closeRawFd(fd)
	})
	loop.RunInLoop(acceptor.Listen)

	addr, err := acceptor.Addr()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr.ToIPPort())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case peer := <-accepted:
		assert.NotZero(t, peer.Port())
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor never invoked new-connection callback")
	}
}

func TestAcceptorClosesConnectionWithoutCallback(t *testing.T) {
	loop := newRunningLoop(t)

	acceptor, err := NewAcceptor(loop, loopbackAny(t), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = acceptor.Close() })
	loop.RunInLoop(acceptor.Listen)

	addr, err := acceptor.Addr()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", addr.ToIPPort())
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err) // EOF: Acceptor closed the fd since no callback was set
}
