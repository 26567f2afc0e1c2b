package modmail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gatekeeper/model"
	"gatekeeper/utils/database"
	"gatekeeper/utils/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countOpenTickets(t *testing.T, h *harness, guildID, userID string) (tickets, guards int) {
	t.Helper()
	require.NoError(t, h.db.Get(&tickets, "SELECT COUNT(*) FROM ticket WHERE guild_id = ? AND user_id = ? AND status = 'open'", guildID, userID))
	require.NoError(t, h.db.Get(&guards, "SELECT COUNT(*) FROM open_ticket_guard WHERE guild_id = ? AND user_id = ?", guildID, userID))
	return tickets, guards
}

func TestOpenConcurrentSinglesTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.factory.delay = 100 * time.Millisecond

	const n = 6
	results := make([]OpenResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.manager.Open(ctx, OpenRequest{GuildID: "gX", UserID: "uY", InitiatorID: "uY"})
		}(i)
	}
	wg.Wait()

	opened := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if !results[i].AlreadyOpen {
			opened++
		}
		assert.Equal(t, results[0].ThreadRef, results[i].ThreadRef)
		assert.Equal(t, results[0].TicketID, results[i].TicketID)
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, h.factory.createdCount())

	tickets, guards := countOpenTickets(t, h, "gX", "uY")
	assert.Equal(t, 1, tickets)
	assert.Equal(t, 1, guards)
	assert.Len(t, h.actions(t, "modmail_open"), 1)
}

func TestOpenCloseReopen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	req := OpenRequest{GuildID: "gX", UserID: "uY", InitiatorID: "mod1"}

	first, err := h.manager.Open(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.AlreadyOpen)
	t1 := first.ThreadRef

	again, err := h.manager.Open(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.AlreadyOpen)
	assert.Equal(t, t1, again.ThreadRef)

	closed, err := h.manager.Close(ctx, CloseRequest{TicketID: first.TicketID, ActorID: "mod1", Reason: "resolved"})
	require.NoError(t, err)
	assert.False(t, closed.AlreadyClosed)
	assert.Equal(t, model.TicketClosed, closed.Ticket.Status)
	assert.True(t, closed.Ticket.ClosedAt.Valid)
	require.NotNil(t, closed.Transcript)
	assert.NoError(t, closed.FlushError)
	_, ok := h.index.ByUser("gX", "uY")
	assert.False(t, ok)

	reopened, err := h.manager.Open(ctx, req)
	require.NoError(t, err)
	assert.False(t, reopened.AlreadyOpen)
	assert.NotEqual(t, t1, reopened.ThreadRef)
	assert.NotEqual(t, first.TicketID, reopened.TicketID)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	opened, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)

	_, err = h.manager.Close(ctx, CloseRequest{TicketID: opened.TicketID, ActorID: "mod"})
	require.NoError(t, err)
	res, err := h.manager.Close(ctx, CloseRequest{TicketID: opened.TicketID, ActorID: "mod"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyClosed)
	assert.Nil(t, res.Transcript)
	assert.Len(t, h.actions(t, "modmail_close"), 1)

	_, err = h.manager.Close(ctx, CloseRequest{TicketID: 4242, ActorID: "mod"})
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestCloseKeepsTranscriptWhenSinkFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.manager.Hydrate(ctx))
	opened, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)

	_, err = h.manager.RouteUserMessage(ctx, "g1", "u1", model.Message{Content: "hello?"})
	require.NoError(t, err)

	h.sink.setErr(errSinkDown)
	res, err := h.manager.Close(ctx, CloseRequest{TicketID: opened.TicketID, ActorID: "mod"})
	require.NoError(t, err, "the close itself committed")
	assert.ErrorIs(t, res.FlushError, errSinkDown)
	assert.Equal(t, []int64{opened.TicketID}, h.buffer.Pending())

	h.sink.setErr(nil)
	n, err := h.manager.RetryPendingTranscripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "[2024-03-09T12:00:00Z] USER: hello?", h.sink.docs[opened.TicketID])
}

func TestOpenChannelFailureReleasesSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.factory.failErr = &model.PlatformError{Op: "create thread", Code: model.CodePermissionDenied, Err: errors.New("Missing Permissions")}

	_, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.Error(t, err)
	assert.True(t, model.IsPermissionDenied(err))

	tickets, guards := countOpenTickets(t, h, "g1", "u1")
	assert.Zero(t, tickets)
	assert.Zero(t, guards)
	assert.Len(t, h.actions(t, "modmail_open_failed"), 1)

	h.factory.failErr = nil
	res, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyOpen)
}

func TestOpenBindFailureDeletesChannel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.manager.Hydrate(ctx))

	// The slot vanishes while the channel is being created.
	h.factory.afterCreate = func() {
		_, err := h.db.Exec("DELETE FROM open_ticket_guard WHERE guild_id = 'g1' AND user_id = 'u1'")
		require.NoError(t, err)
	}
	_, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	var storageErr *database.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.ErrorIs(t, err, database.ErrNotFound)

	assert.Equal(t, []string{"g1-thread-1"}, h.factory.deleted)
	assert.Zero(t, h.index.Len())
	tickets, guards := countOpenTickets(t, h, "g1", "u1")
	assert.Zero(t, tickets)
	assert.Zero(t, guards)
	assert.Len(t, h.actions(t, "modmail_open_failed"), 1)
}

func TestOpenWaitsForInFlightOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.manager.WithOpenWait(150 * time.Millisecond)

	id, err := database.InsertTicket(ctx, h.db, model.Ticket{GuildID: "g1", UserID: "u1", Status: model.TicketOpen, CreatedAt: fixedNow.Unix()})
	require.NoError(t, err)
	require.NoError(t, database.InsertGuard(ctx, h.db, model.OpenTicketGuard{GuildID: "g1", UserID: "u1", TicketID: id}))

	_, err = h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrOpenInProgress)
	assert.Zero(t, h.factory.createdCount())
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.manager.RouteUserMessage(ctx, "g1", "u1", model.Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotHydrated)
	_, err = h.manager.RouteStaffMessage(ctx, "t", "mod", model.Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotHydrated)

	opened, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)

	stale, err := database.InsertTicket(ctx, h.db, model.Ticket{GuildID: "g1", UserID: "u2", Status: model.TicketOpen, CreatedAt: fixedNow.Add(-time.Hour).Unix()})
	require.NoError(t, err)
	require.NoError(t, database.InsertGuard(ctx, h.db, model.OpenTicketGuard{GuildID: "g1", UserID: "u2", TicketID: stale}))

	// A fresh process: new index over the same store.
	h.index.Reset()
	require.NoError(t, h.manager.Hydrate(ctx))
	assert.True(t, h.index.Hydrated())
	assert.Equal(t, 1, h.index.Len())

	e, ok := h.index.ByThread(opened.ThreadRef)
	require.True(t, ok)
	assert.Equal(t, opened.TicketID, e.TicketID)

	_, err = database.GetGuard(ctx, h.db, "g1", "u2")
	assert.ErrorIs(t, err, database.ErrNotFound, "stale in-flight open was reclaimed")
}

func TestCloseAfterRestartKeepsEarlierLines(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.manager.Hydrate(ctx))
	opened, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)
	_, err = h.manager.RouteUserMessage(ctx, "g1", "u1", model.Message{Content: "before restart"})
	require.NoError(t, err)

	// A fresh process over the same store.
	clock := func() time.Time { return fixedNow.Add(time.Minute) }
	buf := NewBuffer(h.db, h.sink, h.auditLogs).WithClock(clock).WithLogger(logger.Discard())
	m := NewManager(h.db, NewOpenTicketIndex(), h.factory, h.dm, buf, h.auditLogs).WithClock(clock).WithLogger(logger.Discard())
	require.NoError(t, m.Hydrate(ctx))

	_, err = m.RouteStaffMessage(ctx, opened.ThreadRef, "mod1", model.Message{Content: "after restart"})
	require.NoError(t, err)

	res, err := m.Close(ctx, CloseRequest{TicketID: opened.TicketID, ActorID: "mod1"})
	require.NoError(t, err)
	require.NoError(t, res.FlushError)
	require.NotNil(t, res.Transcript)
	assert.True(t, res.Transcript.Reconstructed)
	assert.Equal(t, 2, res.Transcript.Lines)
	assert.Equal(t, "[2024-03-09T12:00:00Z] USER: before restart\n[2024-03-09T12:01:00Z] STAFF: after restart", res.Transcript.Document)

	stored, err := database.GetTranscript(ctx, h.db, opened.TicketID)
	require.NoError(t, err)
	assert.Equal(t, res.Transcript.Document, stored.Content)
}

func TestHandleChannelDeleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.manager.Hydrate(ctx))

	opened, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)

	res, err := h.manager.HandleChannelDeleted(ctx, opened.ThreadRef)
	require.NoError(t, err)
	assert.True(t, res.Cleaned)
	assert.Equal(t, opened.TicketID, res.TicketID)
	assert.Zero(t, h.index.Len())

	ticket, err := database.GetTicket(ctx, h.db, opened.TicketID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketClosed, ticket.Status)
	assert.Len(t, h.actions(t, "modmail_orphan_cleanup"), 1)

	res, err = h.manager.HandleChannelDeleted(ctx, opened.ThreadRef)
	require.NoError(t, err)
	assert.False(t, res.Cleaned)

	closed, err := h.manager.Close(ctx, CloseRequest{TicketID: opened.TicketID, ActorID: "mod"})
	require.NoError(t, err)
	assert.True(t, closed.AlreadyClosed, "close after orphan cleanup is a no-op")

	reopened, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, reopened.AlreadyOpen)
}

func TestRouting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.manager.Hydrate(ctx))

	opened, err := h.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	require.NoError(t, err)

	res, err := h.manager.RouteDirectMessage(ctx, "u1", model.Message{
		AuthorID:    "u1",
		Attachments: []model.Attachment{{ContentType: "image/png", URL: "https://cdn/x.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, opened.TicketID, res.TicketID)
	assert.Equal(t, []string{"[image/png] https://cdn/x.png"}, h.factory.sent[opened.ThreadRef])

	_, err = h.manager.RouteStaffMessage(ctx, opened.ThreadRef, "mod1", model.Message{Content: "how can we help?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"how can we help?"}, h.dm.sent["u1"])

	msgs, err := database.ListModmailMessages(ctx, h.db, opened.TicketID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.AuthorUser, msgs[0].Author)
	assert.Equal(t, model.AuthorStaff, msgs[1].Author)
	assert.Len(t, h.buffer.Lines(opened.TicketID), 2)

	h.dm.err = &model.PlatformError{Op: "dm", Code: model.CodeCannotMessage, Err: errors.New("closed DMs")}
	_, err = h.manager.RouteStaffMessage(ctx, opened.ThreadRef, "mod1", model.Message{Content: "still there?"})
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, opened.TicketID, relayErr.TicketID)
	assert.Len(t, h.buffer.Lines(opened.TicketID), 3, "message recorded despite relay failure")

	_, err = h.manager.RouteUserMessage(ctx, "g1", "nobody", model.Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrNoOpenTicket)
}
