package model

import (
	"database/sql"
	"time"
)

// TicketStatus is the state of a modmail ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Ticket represents a row of the 'ticket' table.
type Ticket struct {
	ID        int64         `db:"id"`
	GuildID   string        `db:"guild_id"`
	UserID    string        `db:"user_id"`
	Status    TicketStatus  `db:"status"`
	ThreadRef string        `db:"thread_ref"`
	CreatedAt int64         `db:"created_at"`
	ClosedAt  sql.NullInt64 `db:"closed_at"`
}

// OpenTicketGuard exists if and only if an open ticket exists for the
// (guild_id, user_id) pair. ThreadRef stays empty while the external channel
// is being created.
type OpenTicketGuard struct {
	GuildID   string `db:"guild_id"`
	UserID    string `db:"user_id"`
	TicketID  int64  `db:"ticket_id"`
	ThreadRef string `db:"thread_ref"`
}

// Author identifies which side of a ticket wrote a message.
type Author string

const (
	AuthorStaff Author = "STAFF"
	AuthorUser  Author = "USER"
)

// ModmailMessage is the durable routing record of one relayed message.
type ModmailMessage struct {
	ID        int64  `db:"id"`
	TicketID  int64  `db:"ticket_id"`
	Author    Author `db:"author"`
	AuthorID  string `db:"author_id"`
	Content   string `db:"content"`
	CreatedAt int64  `db:"created_at"`
}

// TranscriptLine is one entry of a ticket transcript.
type TranscriptLine struct {
	TicketID  int64
	Timestamp time.Time
	Author    Author
	Content   string
}

// Transcript is the persisted copy of a flushed transcript.
type Transcript struct {
	TicketID  int64  `db:"ticket_id"`
	Content   string `db:"content"`
	LineCount int    `db:"line_count"`
	CreatedAt int64  `db:"created_at"`
}

// Attachment is a file attached to a relayed message.
type Attachment struct {
	ContentType string
	URL         string
}

// Message is an inbound message to be relayed through a ticket.
type Message struct {
	AuthorID    string
	Content     string
	Attachments []Attachment
}
