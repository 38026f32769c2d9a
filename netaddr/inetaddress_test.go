package netaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToIPPortIPv4(t *testing.T) {
	a, err := New("127.0.0.1", 8888, false)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8888", a.ToIPPort())
	assert.False(t, a.IsIPv6())
}

func TestToIPPortIPv6(t *testing.T) {
	a, err := New("2001:db8::1", 8888, true)
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]:8888", a.ToIPPort())
	assert.True(t, a.IsIPv6())
}

func TestWildcardAddress(t *testing.T) {
	a, err := New("", 0, false)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", a.ToIP())

	a6, err := New("", 0, true)
	require.NoError(t, err)
	assert.Equal(t, "::", a6.ToIP())
}

func TestInvalidAddress(t *testing.T) {
	_, err := New("not-an-ip", 80, false)
	assert.Error(t, err)
}
