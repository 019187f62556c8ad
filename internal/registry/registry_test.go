package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiere-trade/courier/internal/channel"
)

func TestAddAndGetClient(t *testing.T) {
	r := New()
	c := channel.MustParse("global")
	h := NewHandle()

	sub := r.AddClient(h, c, "alice", "0xabc")
	assert.Equal(t, "alice", sub.UserID)

	got, ok := r.GetClient(h)
	require.True(t, ok)
	assert.Equal(t, c, got.Channel)

	handles := r.GetChannelSubscribers(c)
	assert.Contains(t, handles, h)
}

func TestRemoveClient_IsIdempotent(t *testing.T) {
	r := New()
	c := channel.MustParse("global")
	h := NewHandle()
	r.AddClient(h, c, "alice", "")

	r.RemoveClient(h, c)
	_, ok := r.GetClient(h)
	assert.False(t, ok)
	assert.NotContains(t, r.GetChannelSubscribers(c), h)

	// removing again must not panic or error
	r.RemoveClient(h, c)
	assert.False(t, r.ChannelExists(c))
}

func TestGetTotalConnections_MatchesSumOfChannels(t *testing.T) {
	r := New()
	global := channel.MustParse("global")
	trade := channel.MustParse("trade")

	r.AddClient(NewHandle(), global, "alice", "")
	r.AddClient(NewHandle(), global, "bob", "")
	r.AddClient(NewHandle(), trade, "carol", "")

	total := r.GetTotalConnections()
	sum := 0
	for _, count := range r.GetAllChannels() {
		sum += count
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, total, sum)
}

func TestReAddAfterRemove_ObservationallyEqual(t *testing.T) {
	r := New()
	c := channel.MustParse("global")
	h := NewHandle()

	r.AddClient(h, c, "alice", "")
	r.RemoveClient(h, c)
	r.AddClient(h, c, "alice", "")

	assert.Equal(t, 1, r.GetTotalConnections())
	handles := r.GetChannelSubscribers(c)
	assert.Equal(t, []Handle{h}, handles)
}

func TestRemoveMany_PrunesDeadSockets(t *testing.T) {
	r := New()
	c := channel.MustParse("global")
	h1, h2 := NewHandle(), NewHandle()
	r.AddClient(h1, c, "alice", "")
	r.AddClient(h2, c, "bob", "")

	r.RemoveMany(c, []Handle{h1})

	handles := r.GetChannelSubscribers(c)
	assert.NotContains(t, handles, h1)
	assert.Contains(t, handles, h2)
}

func TestEmptyChannel_PublishToZeroSubscribers(t *testing.T) {
	r := New()
	c := channel.MustParse("global")
	assert.Empty(t, r.GetChannelSubscribers(c))
	assert.Equal(t, 0, r.GetTotalConnections())
}
