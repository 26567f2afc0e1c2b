package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatekeeper/model"

	"github.com/jmoiron/sqlx"
)

// InsertTicket adds a new open ticket and returns its id.
func InsertTicket(ctx context.Context, e sqlx.ExecerContext, ticket model.Ticket) (int64, error) {
	query := `INSERT INTO ticket (guild_id, user_id, status, thread_ref, created_at) VALUES (?, ?, ?, ?, ?)`
	result, err := e.ExecContext(ctx, query, ticket.GuildID, ticket.UserID, ticket.Status, ticket.ThreadRef, ticket.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ticket: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// GetTicket retrieves a ticket by id.
func GetTicket(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.Ticket, error) {
	var ticket model.Ticket
	err := sqlx.GetContext(ctx, q, &ticket, "SELECT * FROM ticket WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket %d: %w", id, err)
	}
	return &ticket, nil
}

// SetTicketThread records the external channel of a ticket.
func SetTicketThread(ctx context.Context, e sqlx.ExecerContext, id int64, threadRef string) error {
	if _, err := e.ExecContext(ctx, "UPDATE ticket SET thread_ref = ? WHERE id = ?", threadRef, id); err != nil {
		return fmt.Errorf("failed to set thread of ticket %d: %w", id, err)
	}
	return nil
}

// CloseTicket marks an open ticket closed. The returned count is 0 if the
// ticket was already closed.
func CloseTicket(ctx context.Context, e sqlx.ExecerContext, id int64, now int64) (int64, error) {
	result, err := e.ExecContext(ctx, "UPDATE ticket SET status = ?, closed_at = ? WHERE id = ? AND status = ?", model.TicketClosed, now, id, model.TicketOpen)
	if err != nil {
		return 0, fmt.Errorf("failed to close ticket %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected for ticket %d: %w", id, err)
	}
	return rowsAffected, nil
}

// DeleteTicket removes a ticket row. Only used to compensate a failed open.
func DeleteTicket(ctx context.Context, e sqlx.ExecerContext, id int64) error {
	if _, err := e.ExecContext(ctx, "DELETE FROM ticket WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete ticket %d: %w", id, err)
	}
	return nil
}

// InsertGuard claims the open-ticket slot of a (guild, user) pair. A unique
// violation means the pair already has an open ticket; see IsUniqueViolation.
func InsertGuard(ctx context.Context, e sqlx.ExecerContext, guard model.OpenTicketGuard) error {
	query := `INSERT INTO open_ticket_guard (guild_id, user_id, ticket_id, thread_ref) VALUES (?, ?, ?, ?)`
	if _, err := e.ExecContext(ctx, query, guard.GuildID, guard.UserID, guard.TicketID, guard.ThreadRef); err != nil {
		return fmt.Errorf("failed to insert open ticket guard: %w", err)
	}
	return nil
}

// GetGuard returns the guard of a pair, or ErrNotFound.
func GetGuard(ctx context.Context, q sqlx.QueryerContext, guildID, userID string) (*model.OpenTicketGuard, error) {
	var guard model.OpenTicketGuard
	err := sqlx.GetContext(ctx, q, &guard, "SELECT * FROM open_ticket_guard WHERE guild_id = ? AND user_id = ?", guildID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guard for user %s in guild %s: %w", userID, guildID, err)
	}
	return &guard, nil
}

// GetGuardByThread returns the guard bound to a thread, or ErrNotFound.
func GetGuardByThread(ctx context.Context, q sqlx.QueryerContext, threadRef string) (*model.OpenTicketGuard, error) {
	var guard model.OpenTicketGuard
	err := sqlx.GetContext(ctx, q, &guard, "SELECT * FROM open_ticket_guard WHERE thread_ref = ? AND thread_ref != ''", threadRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guard for thread %s: %w", threadRef, err)
	}
	return &guard, nil
}

// SetGuardThread stores the thread reference on the guard owned by a ticket.
// It returns ErrNotFound if that guard no longer exists.
func SetGuardThread(ctx context.Context, e sqlx.ExecerContext, ticketID int64, threadRef string) error {
	result, err := e.ExecContext(ctx, "UPDATE open_ticket_guard SET thread_ref = ? WHERE ticket_id = ?", threadRef, ticketID)
	if err != nil {
		return fmt.Errorf("failed to set thread on guard of ticket %d: %w", ticketID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected for guard of ticket %d: %w", ticketID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGuardForTicket removes the guard owned by a ticket.
func DeleteGuardForTicket(ctx context.Context, e sqlx.ExecerContext, ticketID int64) error {
	if _, err := e.ExecContext(ctx, "DELETE FROM open_ticket_guard WHERE ticket_id = ?", ticketID); err != nil {
		return fmt.Errorf("failed to delete guard of ticket %d: %w", ticketID, err)
	}
	return nil
}

// ListGuards returns every guard, i.e. every currently open ticket.
func ListGuards(ctx context.Context, q sqlx.QueryerContext) ([]model.OpenTicketGuard, error) {
	var guards []model.OpenTicketGuard
	if err := sqlx.SelectContext(ctx, q, &guards, "SELECT * FROM open_ticket_guard ORDER BY ticket_id"); err != nil {
		return nil, fmt.Errorf("failed to list open ticket guards: %w", err)
	}
	return guards, nil
}

// InsertModmailMessage records a relayed message.
func InsertModmailMessage(ctx context.Context, e sqlx.ExecerContext, msg model.ModmailMessage) (int64, error) {
	query := `INSERT INTO modmail_message (ticket_id, author, author_id, content, created_at) VALUES (?, ?, ?, ?, ?)`
	result, err := e.ExecContext(ctx, query, msg.TicketID, msg.Author, msg.AuthorID, msg.Content, msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert modmail message for ticket %d: %w", msg.TicketID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// ListModmailMessages returns the relayed messages of a ticket in order.
func ListModmailMessages(ctx context.Context, q sqlx.QueryerContext, ticketID int64) ([]model.ModmailMessage, error) {
	var msgs []model.ModmailMessage
	query := "SELECT * FROM modmail_message WHERE ticket_id = ? ORDER BY created_at, id"
	if err := sqlx.SelectContext(ctx, q, &msgs, query, ticketID); err != nil {
		return nil, fmt.Errorf("failed to list modmail messages for ticket %d: %w", ticketID, err)
	}
	return msgs, nil
}

// UpsertTranscript stores the flushed transcript of a ticket, replacing an earlier flush.
func UpsertTranscript(ctx context.Context, e sqlx.ExecerContext, t model.Transcript) error {
	query := `INSERT INTO ticket_transcript (ticket_id, content, line_count, created_at) VALUES (?, ?, ?, ?)
			  ON CONFLICT(ticket_id) DO UPDATE SET content = excluded.content, line_count = excluded.line_count, created_at = excluded.created_at`
	if _, err := e.ExecContext(ctx, query, t.TicketID, t.Content, t.LineCount, t.CreatedAt); err != nil {
		return fmt.Errorf("failed to store transcript of ticket %d: %w", t.TicketID, err)
	}
	return nil
}

// GetTranscript returns the stored transcript of a ticket, or ErrNotFound.
func GetTranscript(ctx context.Context, q sqlx.QueryerContext, ticketID int64) (*model.Transcript, error) {
	var t model.Transcript
	err := sqlx.GetContext(ctx, q, &t, "SELECT * FROM ticket_transcript WHERE ticket_id = ?", ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript of ticket %d: %w", ticketID, err)
	}
	return &t, nil
}
