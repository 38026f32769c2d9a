package tcp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/driftnet/reactor/netaddr"
	"github.com/driftnet/reactor/reactor"
)

func newRunningLoop(t *testing.T) *reactor.EventLoop {
	t.Helper()
	th := reactor.NewEventLoopThread()
	loop, err := th.Start()
	require.NoError(t, err)
	t.Cleanup(th.Stop)
	return loop
}

func loopbackAny(t *testing.T) netaddr.InetAddress {
	t.Helper()
	addr, err := netaddr.New("127.0.0.1", 0, false)
	require.NoError(t, err)
	return addr
}
