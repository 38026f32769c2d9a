package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftnet/reactor/netaddr"
)

func TestConnectorConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	addr, err := netaddr.New(tcpAddr.IP.String(), uint16(tcpAddr.Port), false)
	require.NoError(t, err)

	loop := newRunningLoop(t)
	connector := NewConnector(loop, addr)

	connected := make(chan netaddr.InetAddress, 1)
	connector.SetNewConnectionCallback(func(fd int, peer netaddr.InetAddress) {
		connected <- peer
		_ = closeRawFd(fd)
	})
	connector.Start()

	select {
	case peer := <-connected:
		assert.Equal(t, uint16(tcpAddr.Port), peer.Port())
	case <-time.After(2 * time.Second):
		t.Fatal("connector never connected")
	}

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted")
	}
}

func TestConnectorRetryDoublesBackoffUpToCeiling(t *testing.T) {
	loop := newRunningLoop(t)
	addr := loopbackAny(t)
	connector := NewConnector(loop, addr)

	done := make(chan struct{})
	loop.RunInLoop(func() {
		connector.connect.Store(true)
		connector.retryDelay = initialRetryDelay
		var seen []time.Duration
		for i := 0; i < 8; i++ {
			seen = append(seen, connector.retryDelay)
			connector.retry()
		}
		connector.connect.Store(false)

		assert.Equal(t, []time.Duration{
			500 * time.Millisecond,
			time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second,
		}, seen)
		close(done)
	})
	<-done
}
