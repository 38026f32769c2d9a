package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRetrieve(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())

	b.Append([]byte("hello"))
	assert.Equal(t, 5, b.ReadableBytes())
	assert.Equal(t, "hello", string(b.Peek()))

	b.Retrieve(2)
	assert.Equal(t, "llo", string(b.Peek()))

	assert.Equal(t, "llo", b.RetrieveAllString())
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestGrowBeyondInitialCapacity(t *testing.T) {
	b := New()
	big := make([]byte, InitialSize*4)
	for i := range big {
		big[i] = byte(i)
	}
	b.Append(big)
	require.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, big, b.Peek())
}

func TestMakeSpaceReclaimsPrependableSlack(t *testing.T) {
	b := New()
	b.Append(make([]byte, InitialSize))
	b.Retrieve(InitialSize - 10)
	// 10 bytes readable remain; requesting a modest amount of additional
	// writable space should slide data down rather than reallocate.
	before := len(b.buf)
	b.EnsureWritable(InitialSize - 100)
	assert.Equal(t, before, len(b.buf))
	assert.Equal(t, 10, b.ReadableBytes())
}

func TestPrependInt32RoundTrip(t *testing.T) {
	b := New()
	b.Append([]byte("payload"))
	b.PrependInt32(7)
	v, err := b.ReadInt32()
	require.NoError(t, err)
	assert.EqualValues(t, 7, v)
	assert.Equal(t, "payload", string(b.Peek()))
}

func TestPeekInt32NotEnoughData(t *testing.T) {
	b := New()
	b.Append([]byte{1, 2})
	_, err := b.PeekInt32()
	assert.ErrorIs(t, err, ErrNotEnoughData)
}
