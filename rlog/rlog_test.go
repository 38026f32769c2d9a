package rlog

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestAsyncWriterDrainsToUnderlying(t *testing.T) {
	var out syncBuffer
	w := NewAsyncWriter(&out, 16)
	defer w.Close()

	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return out.String() == "hello\n"
	}, time.Second, time.Millisecond)
}

func TestAsyncWriterDropsUnderFullQueue(t *testing.T) {
	blocker := make(chan struct{})
	w := &AsyncWriter{
		out:   blockingWriter{blocker},
		lines: make(chan []byte, 1),
		done:  make(chan struct{}),
	}
	go w.drain()
	defer func() {
		close(blocker)
		w.Close()
	}()

	// First write is picked up by the drain goroutine and blocks on out.Write.
	_, _ = w.Write([]byte("a"))
	time.Sleep(10 * time.Millisecond)
	// Second write fills the 1-slot queue.
	_, _ = w.Write([]byte("b"))
	// Third write finds the queue full and must be dropped.
	_, _ = w.Write([]byte("c"))

	assert.Eventually(t, func() bool { return w.Dropped() >= 1 }, time.Second, time.Millisecond)
}

type blockingWriter struct{ unblock chan struct{} }

func (b blockingWriter) Write(p []byte) (int, error) {
	<-b.unblock
	return len(p), nil
}

func TestNewLoggerWritesThroughAsyncWriter(t *testing.T) {
	var out syncBuffer
	l := New(NewAsyncWriter(&out, 16), logiface.LevelTrace)
	l.Info().Log("hello")
	require.Eventually(t, func() bool {
		return out.String() != ""
	}, time.Second, time.Millisecond)
	assert.Contains(t, out.String(), "hello")
}
