package modmail

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/model"
	"gatekeeper/utils/database"
)

// RouteResult reports a routed message. The message is recorded even when
// the relay fails.
type RouteResult struct {
	TicketID  int64
	MessageID int64
	Content   string
}

// RouteUserMessage records a message from the user of an open ticket and
// forwards it to the ticket thread.
func (m *Manager) RouteUserMessage(ctx context.Context, guildID, userID string, msg model.Message) (RouteResult, error) {
	if !m.index.Hydrated() {
		return RouteResult{}, ErrNotHydrated
	}
	entry, ok := m.index.ByUser(guildID, userID)
	if !ok {
		return RouteResult{}, fmt.Errorf("%w for user %s in guild %s", ErrNoOpenTicket, userID, guildID)
	}

	res, err := m.record(ctx, entry, model.AuthorUser, userID, msg)
	if err != nil {
		return res, err
	}
	if err := m.channels.Channel(entry.ThreadRef).Send(ctx, res.Content); err != nil {
		m.log.Warn("failed to relay user message", "ticket_id", entry.TicketID, "thread_ref", entry.ThreadRef, "error", err)
		return res, &RelayError{TicketID: entry.TicketID, To: "thread " + entry.ThreadRef, Err: err}
	}
	return res, nil
}

// RouteDirectMessage routes a direct message of a user to their newest open
// ticket. Direct messages carry no guild.
func (m *Manager) RouteDirectMessage(ctx context.Context, userID string, msg model.Message) (RouteResult, error) {
	if !m.index.Hydrated() {
		return RouteResult{}, ErrNotHydrated
	}
	entries := m.index.ForUser(userID)
	if len(entries) == 0 {
		return RouteResult{}, fmt.Errorf("%w for user %s", ErrNoOpenTicket, userID)
	}
	return m.RouteUserMessage(ctx, entries[0].GuildID, userID, msg)
}

// RouteStaffMessage records a staff reply posted in a ticket thread and
// forwards it to the user by direct message.
func (m *Manager) RouteStaffMessage(ctx context.Context, threadRef, authorID string, msg model.Message) (RouteResult, error) {
	if !m.index.Hydrated() {
		return RouteResult{}, ErrNotHydrated
	}
	entry, ok := m.index.ByThread(threadRef)
	if !ok {
		return RouteResult{}, fmt.Errorf("%w for thread %s", ErrNoOpenTicket, threadRef)
	}

	res, err := m.record(ctx, entry, model.AuthorStaff, authorID, msg)
	if err != nil {
		return res, err
	}
	if err := m.dm.SendDirectMessage(ctx, entry.UserID, res.Content); err != nil {
		m.log.Warn("failed to relay staff reply", "ticket_id", entry.TicketID, "user_id", entry.UserID, "error", err)
		return res, &RelayError{TicketID: entry.TicketID, To: "user " + entry.UserID, Err: err}
	}
	return res, nil
}

func (m *Manager) record(ctx context.Context, entry IndexEntry, author model.Author, authorID string, msg model.Message) (RouteResult, error) {
	content := RenderContent(msg.Content, msg.Attachments)
	at := m.now()

	id, err := database.InsertModmailMessage(ctx, m.db, model.ModmailMessage{
		TicketID:  entry.TicketID,
		Author:    author,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: at.Unix(),
	})
	if err != nil {
		return RouteResult{TicketID: entry.TicketID}, database.NewStorageError("record modmail message", err)
	}

	m.buffer.AppendLine(model.TranscriptLine{
		TicketID:  entry.TicketID,
		Timestamp: at.Truncate(time.Second),
		Author:    author,
		Content:   content,
	})
	return RouteResult{TicketID: entry.TicketID, MessageID: id, Content: content}, nil
}
