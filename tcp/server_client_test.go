package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftnet/reactor/buffer"
)

// TestServerClientEcho pins spec.md §8 scenario 1: a Server that echoes
// every message back, exercised end-to-end through a real Client over
// loopback TCP.
func TestServerClientEcho(t *testing.T) {
	baseLoop := newRunningLoop(t)

	server, err := NewServer(baseLoop, "echo-server", loopbackAny(t), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	server.SetMessageCallback(func(c *Connection, data *buffer.Buffer, _ time.Time) {
		c.Send(data.Peek())
		data.RetrieveAll()
	})
	server.Start()

	addr, err := server.Addr()
	require.NoError(t, err)

	clientLoop := newRunningLoop(t)
	client := NewClient(clientLoop, "echo-client", addr)
	t.Cleanup(client.Disconnect)

	connected := make(chan *Connection, 1)
	client.SetConnectionCallback(func(c *Connection) {
		if c.Connected() {
			connected <- c
		}
	})
	echoed := make(chan string, 1)
	client.SetMessageCallback(func(c *Connection, data *buffer.Buffer, _ time.Time) {
		echoed <- data.RetrieveAllString()
	})
	client.Connect()

	var conn *Connection
	select {
	case conn = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}

	conn.Send([]byte("ping"))

	select {
	case msg := <-echoed:
		assert.Equal(t, "ping", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("echo never arrived")
	}
}
