package modmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gatekeeper/audit"
	"gatekeeper/metrics"
	"gatekeeper/model"
	"gatekeeper/utils/database"
	"gatekeeper/utils/logger"

	"github.com/jmoiron/sqlx"
)

const (
	// EmptyTranscript is the document of a ticket with no messages at all.
	EmptyTranscript = "(no transcript content)"
	// EmptyMessage stands in for a message without text or attachments.
	EmptyMessage = "(empty message)"

	// SystemActor is the actor id of automatic ticket transitions.
	SystemActor = "system"
)

// RenderContent returns the transcript form of a message: the text followed
// by one "[content-type] url" line per attachment.
func RenderContent(text string, attachments []model.Attachment) string {
	var lines []string
	if strings.TrimSpace(text) != "" {
		lines = append(lines, text)
	}
	for _, a := range attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "unknown"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", ct, a.URL))
	}
	if len(lines) == 0 {
		return EmptyMessage
	}
	return strings.Join(lines, "\n")
}

// FormatLine renders one transcript line.
func FormatLine(l model.TranscriptLine) string {
	return fmt.Sprintf("[%s] %s: %s", l.Timestamp.UTC().Format(time.RFC3339), l.Author, l.Content)
}

// FormatTranscript joins lines into the flushed document.
func FormatTranscript(lines []model.TranscriptLine) string {
	if len(lines) == 0 {
		return EmptyTranscript
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = FormatLine(l)
	}
	return strings.Join(out, "\n")
}

// FlushResult describes a successful flush.
type FlushResult struct {
	TicketID      int64
	Document      string
	Lines         int
	Reconstructed bool
}

type ticketBuffer struct {
	mu    sync.Mutex
	lines []model.TranscriptLine
	// partial is set for tickets that were open before this process started:
	// earlier lines exist only in modmail_message.
	partial bool
	retired bool
}

// Buffer keeps the transcript of every open ticket in memory until the
// ticket is closed and the transcript flushed.
type Buffer struct {
	db    *sqlx.DB
	sink  model.LogSink
	audit *audit.Writer
	now   func() time.Time
	log   *slog.Logger

	mu      sync.Mutex
	tickets map[int64]*ticketBuffer
}

// NewBuffer creates a Buffer that persists to db and sink.
func NewBuffer(db *sqlx.DB, sink model.LogSink, auditWriter *audit.Writer) *Buffer {
	return &Buffer{
		db:      db,
		sink:    sink,
		audit:   auditWriter,
		now:     time.Now,
		log:     logger.WithComponent("transcript"),
		tickets: make(map[int64]*ticketBuffer),
	}
}

// WithClock overrides the time source. Used by tests.
func (b *Buffer) WithClock(now func() time.Time) *Buffer {
	b.now = now
	return b
}

// WithLogger overrides the logger.
func (b *Buffer) WithLogger(l *slog.Logger) *Buffer {
	b.log = l
	return b
}

func (b *Buffer) ticket(id int64) *ticketBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	tb, ok := b.tickets[id]
	if !ok {
		tb = &ticketBuffer{}
		b.tickets[id] = tb
	}
	return tb
}

// Append adds a line stamped with the current time.
func (b *Buffer) Append(ticketID int64, author model.Author, content string) {
	b.AppendLine(model.TranscriptLine{TicketID: ticketID, Timestamp: b.now(), Author: author, Content: content})
}

// AppendLine adds a line with its own timestamp.
func (b *Buffer) AppendLine(line model.TranscriptLine) {
	for {
		tb := b.ticket(line.TicketID)
		tb.mu.Lock()
		if tb.retired {
			// Flushed and dropped while we waited; start a fresh buffer.
			tb.mu.Unlock()
			continue
		}
		tb.lines = append(tb.lines, line)
		tb.mu.Unlock()
		return
	}
}

// MarkPartial records that lines of a ticket were written before this
// buffer existed. Its next flush rebuilds the whole transcript from the store.
func (b *Buffer) MarkPartial(ticketID int64) {
	tb := b.ticket(ticketID)
	tb.mu.Lock()
	tb.partial = true
	tb.mu.Unlock()
}

// Lines returns a copy of the buffered lines of a ticket.
func (b *Buffer) Lines(ticketID int64) []model.TranscriptLine {
	b.mu.Lock()
	tb, ok := b.tickets[ticketID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return append([]model.TranscriptLine(nil), tb.lines...)
}

// Pending lists tickets with unflushed lines, ascending. Tickets being
// flushed right now are skipped.
func (b *Buffer) Pending() []int64 {
	b.mu.Lock()
	buffers := make(map[int64]*ticketBuffer, len(b.tickets))
	for id, tb := range b.tickets {
		buffers[id] = tb
	}
	b.mu.Unlock()

	var ids []int64
	for id, tb := range buffers {
		if !tb.mu.TryLock() {
			continue
		}
		if len(tb.lines) > 0 && !tb.retired {
			ids = append(ids, id)
		}
		tb.mu.Unlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Flush persists the transcript of a ticket: first the durable copy in the
// store, then the log sink. The in-memory lines are dropped only if both
// succeed. Appends to the same ticket wait until Flush returns.
func (b *Buffer) Flush(ctx context.Context, ticketID int64) (FlushResult, error) {
	tb := b.ticket(ticketID)
	tb.mu.Lock()
	defer tb.mu.Unlock()

	res := FlushResult{TicketID: ticketID}

	ticket, err := database.GetTicket(ctx, b.db, ticketID)
	if errors.Is(err, database.ErrNotFound) {
		return res, fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
	}
	if err != nil {
		return res, b.failed(ticketID, database.NewStorageError("flush transcript", err))
	}

	// Routed lines are recorded in modmail_message before they are buffered,
	// so the store holds a superset of a partial buffer.
	lines := tb.lines
	if len(lines) == 0 || tb.partial {
		lines, err = b.reconstruct(ctx, ticketID)
		if err != nil {
			return res, b.failed(ticketID, database.NewStorageError("reconstruct transcript", err))
		}
		res.Reconstructed = true
	}
	res.Document = FormatTranscript(lines)
	res.Lines = len(lines)

	err = database.UpsertTranscript(ctx, b.db, model.Transcript{
		TicketID:  ticketID,
		Content:   res.Document,
		LineCount: res.Lines,
		CreatedAt: b.now().Unix(),
	})
	if err != nil {
		return res, b.failed(ticketID, database.NewStorageError("store transcript", err))
	}
	if b.sink != nil {
		if err := b.sink.WriteTranscript(ctx, *ticket, res.Document); err != nil {
			return res, b.failed(ticketID, fmt.Errorf("failed to send transcript of ticket %d: %w", ticketID, err))
		}
	}

	tb.lines = nil
	tb.partial = false
	tb.retired = true
	b.mu.Lock()
	if b.tickets[ticketID] == tb {
		delete(b.tickets, ticketID)
	}
	b.mu.Unlock()

	metrics.TranscriptFlushes.WithLabelValues("ok").Inc()
	if b.audit != nil {
		_, err := b.audit.Append(ctx, b.db, audit.Entry{
			GuildID:   ticket.GuildID,
			ActorID:   SystemActor,
			SubjectID: ticket.UserID,
			Action:    audit.ActionTranscriptFlush,
			Meta: map[string]any{
				"ticket_id":     ticketID,
				"lines":         res.Lines,
				"reconstructed": res.Reconstructed,
			},
		})
		if err != nil {
			b.log.Warn("failed to audit transcript flush", "ticket_id", ticketID, "error", err)
		}
	}
	b.log.Info("transcript flushed", "ticket_id", ticketID, "lines", res.Lines, "reconstructed", res.Reconstructed)
	return res, nil
}

func (b *Buffer) failed(ticketID int64, err error) error {
	metrics.TranscriptFlushes.WithLabelValues("error").Inc()
	b.log.Error("transcript flush failed", "ticket_id", ticketID, "error", err)
	return err
}

func (b *Buffer) reconstruct(ctx context.Context, ticketID int64) ([]model.TranscriptLine, error) {
	msgs, err := database.ListModmailMessages(ctx, b.db, ticketID)
	if err != nil {
		return nil, err
	}
	lines := make([]model.TranscriptLine, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, model.TranscriptLine{
			TicketID:  ticketID,
			Timestamp: time.Unix(m.CreatedAt, 0),
			Author:    m.Author,
			Content:   m.Content,
		})
	}
	return lines, nil
}
