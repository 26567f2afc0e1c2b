package modmail

import (
	"testing"

	"gatekeeper/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexLifecycle(t *testing.T) {
	idx := NewOpenTicketIndex()
	assert.False(t, idx.Hydrated())

	idx.Hydrate([]model.OpenTicketGuard{
		{GuildID: "g1", UserID: "u1", TicketID: 1, ThreadRef: "t1"},
		{GuildID: "g2", UserID: "u1", TicketID: 2, ThreadRef: "t2"},
		{GuildID: "g1", UserID: "u3", TicketID: 3, ThreadRef: ""},
	})
	assert.True(t, idx.Hydrated())
	assert.Equal(t, 2, idx.Len())

	e, ok := idx.ByUser("g1", "u1")
	require.True(t, ok)
	assert.Equal(t, int64(1), e.TicketID)

	e, ok = idx.ByThread("t2")
	require.True(t, ok)
	assert.Equal(t, "g2", e.GuildID)

	_, ok = idx.ByUser("g1", "u3")
	assert.False(t, ok, "guards without a thread are not routable")

	entries := idx.ForUser("u1")
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].TicketID)

	assert.True(t, idx.Remove(1))
	assert.False(t, idx.Remove(1))
	_, ok = idx.ByThread("t1")
	assert.False(t, ok)

	idx.Reset()
	assert.False(t, idx.Hydrated())
	assert.Zero(t, idx.Len())
}

func TestIndexPutReplacesPair(t *testing.T) {
	idx := NewOpenTicketIndex()
	idx.Put(IndexEntry{TicketID: 1, GuildID: "g", UserID: "u", ThreadRef: "old"})
	idx.Put(IndexEntry{TicketID: 2, GuildID: "g", UserID: "u", ThreadRef: "new"})

	assert.Equal(t, 1, idx.Len())
	_, ok := idx.ByThread("old")
	assert.False(t, ok)
	e, ok := idx.ByUser("g", "u")
	require.True(t, ok)
	assert.Equal(t, "new", e.ThreadRef)
}
