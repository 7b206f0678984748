package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyNamespacing(t *testing.T) {
	c := &Client{prefix: "cpad:"}
	require.Equal(t, "cpad:lock:keeper", c.key("lock", "keeper"))
	require.Equal(t, "cpad:ratelimit:api:0xabc", c.key("ratelimit", "api:0xabc"))
}

func TestPatternDetection(t *testing.T) {
	require.True(t, isPattern("ch:*"))
	require.True(t, isPattern("ch:[co]*"))
	require.False(t, isPattern("ch:campaign"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	require.True(t, ok)
	require.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte{1, 2})
	require.True(t, ok)
	require.Equal(t, []byte{1, 2}, b)

	_, ok = payloadBytes(42)
	require.False(t, ok)
}

func TestSignalBusDefaultsMaxLen(t *testing.T) {
	require.Equal(t, defaultStreamMaxLen, NewSignalBus(&Client{}, 0).maxLen)
	require.EqualValues(t, 50, NewSignalBus(&Client{}, 50).maxLen)
}
