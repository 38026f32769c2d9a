// Package buffer implements a growable byte buffer modelled on muduo's
// Buffer: a single contiguous slice split into prependable, readable and
// writable regions by two cursors, with a small cheap-prepend slack at the
// front reserved for length-prefix framing.
package buffer

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

const (
	// CheapPrepend is the slack reserved at the front of the buffer so that
	// a 4-byte length header can be prepended without shifting readable data.
	CheapPrepend = 8

	// InitialSize is the default capacity of the writable region on creation.
	InitialSize = 1024

	// extentSize is the size of the stack-allocated scatter-read extension.
	extentSize = 65536
)

// ErrNotEnoughData is returned by the Read*/Peek* helpers when fewer than
// the requested number of bytes are available.
var ErrNotEnoughData = errors.New("buffer: not enough data")

// Buffer is a growable byte buffer. The zero value is not usable; use New.
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// New returns a Buffer with CheapPrepend slack and InitialSize of writable
// capacity.
func New() *Buffer {
	b := &Buffer{
		buf: make([]byte, CheapPrepend+InitialSize),
	}
	b.readIndex = CheapPrepend
	b.writeIndex = CheapPrepend
	return b
}

// ReadableBytes returns the number of bytes available to read.
func (b *Buffer) ReadableBytes() int { return b.writeIndex - b.readIndex }

// WritableBytes returns the number of bytes that can be written without
// growing the buffer.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writeIndex }

// PrependableBytes returns the number of bytes available before readIndex.
func (b *Buffer) PrependableBytes() int { return b.readIndex }

// Peek returns the readable region without consuming it. The slice aliases
// the buffer's storage and is only valid until the next mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.readIndex:b.writeIndex] }

// Retrieve consumes n bytes from the front of the readable region.
func (b *Buffer) Retrieve(n int) {
	if n <= 0 {
		return
	}
	if n < b.ReadableBytes() {
		b.readIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll consumes every readable byte, resetting the cursors to the
// start of the prependable slack.
func (b *Buffer) RetrieveAll() {
	b.readIndex = CheapPrepend
	b.writeIndex = CheapPrepend
}

// RetrieveAllString consumes every readable byte and returns it as a string.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// RetrieveString consumes n bytes and returns them as a string.
func (b *Buffer) RetrieveString(n int) string {
	s := string(b.buf[b.readIndex : b.readIndex+n])
	b.Retrieve(n)
	return s
}

// Append copies data into the writable region, growing the buffer first if
// necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	copy(b.buf[b.writeIndex:], data)
	b.writeIndex += len(data)
}

// EnsureWritable grows the buffer so that at least n bytes are writable,
// either by sliding the readable region down into reclaimed prependable
// space or by reallocating.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes()-CheapPrepend >= n {
		readable := b.ReadableBytes()
		copy(b.buf[CheapPrepend:], b.buf[b.readIndex:b.writeIndex])
		b.readIndex = CheapPrepend
		b.writeIndex = CheapPrepend + readable
		return
	}
	newBuf := make([]byte, b.writeIndex+n)
	copy(newBuf, b.buf)
	b.buf = newBuf
}

// PrependInt32 writes a big-endian uint32 length header into the cheap
// prepend slack immediately before the current readable region. It is a
// programming error to call this with fewer than 4 bytes of prependable
// slack available.
func (b *Buffer) PrependInt32(v int32) {
	const n = 4
	if b.readIndex < n {
		panic("buffer: PrependInt32 called with insufficient prependable slack")
	}
	b.readIndex -= n
	binary.BigEndian.PutUint32(b.buf[b.readIndex:], uint32(v))
}

// PeekInt32 reads a big-endian uint32 from the front of the readable region
// without consuming it.
func (b *Buffer) PeekInt32() (int32, error) {
	if b.ReadableBytes() < 4 {
		return 0, ErrNotEnoughData
	}
	return int32(binary.BigEndian.Uint32(b.Peek())), nil
}

// ReadInt32 reads and consumes a big-endian uint32 from the front of the
// readable region.
func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.PeekInt32()
	if err != nil {
		return 0, err
	}
	b.Retrieve(4)
	return v, nil
}

// ReadFd performs a scatter-read from fd into the buffer's writable region
// plus a 64KiB stack extension vector, appending any spillover into the
// extension back onto the buffer afterwards. It returns the number of bytes
// read (0 meaning EOF) and any error from the underlying readv(2).
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extent [extentSize]byte

	writable := b.WritableBytes()
	iov := make([][]byte, 0, 2)
	iov = append(iov, b.buf[b.writeIndex:len(b.buf)])
	if writable < extentSize {
		iov = append(iov, extent[:])
	}

	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writeIndex += n
	} else {
		b.writeIndex = len(b.buf)
		b.Append(extent[:n-writable])
	}
	return n, nil
}
