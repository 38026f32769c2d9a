package tcp

import (
	"time"

	"github.com/driftnet/reactor/buffer"
)

// The five optional callback slots spec.md §3 "TcpConnection" names, plus
// the new-connection callback Acceptor/Connector hand upward. Modelled as
// capability-parameter closures rather than an erasable function pointer
// mid-flight, per DESIGN NOTES §9.
type (
	// ConnectionCallback fires once on every Connected transition and once
	// more on the transition into Disconnected.
	ConnectionCallback func(conn *Connection)

	// MessageCallback fires whenever new bytes have arrived in the input
	// buffer.
	MessageCallback func(conn *Connection, data *buffer.Buffer, receiveTime time.Time)

	// WriteCompleteCallback fires once sent data has been fully written to
	// the socket: right after a direct write that took every byte, or once
	// the output buffer has fully drained after a partial write.
	WriteCompleteCallback func(conn *Connection)

	// HighWaterMarkCallback fires when the output buffer's pending size
	// transitions from below HighWaterMark to at or above it.
	HighWaterMarkCallback func(conn *Connection, pendingBytes int)

	// CloseCallback fires once a Connection has reached Disconnected. The
	// owning Server/Client installs its own CloseCallback to perform
	// bookkeeping after the user's ConnectionCallback has been told.
	CloseCallback func(conn *Connection)
)
