// Package modmail runs staff-user tickets: opening and closing them, routing
// messages through them and keeping their transcripts.
package modmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gatekeeper/audit"
	"gatekeeper/metrics"
	"gatekeeper/model"
	"gatekeeper/utils/database"
	"gatekeeper/utils/logger"

	"github.com/jmoiron/sqlx"
)

const (
	defaultOpenWait     = 3 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	// Guards still without a thread after this long belong to an open that
	// crashed between claiming the slot and creating the channel.
	staleOpenAge    = 5 * time.Minute
	maxOpenAttempts = 3
)

var errSlotTaken = errors.New("open ticket slot taken")

// OpenRequest asks for a ticket between a user and staff.
type OpenRequest struct {
	GuildID     string
	UserID      string
	InitiatorID string
}

// OpenResult is the ticket the user now has. AlreadyOpen is set when the
// ticket existed before this call.
type OpenResult struct {
	TicketID    int64
	ThreadRef   string
	AlreadyOpen bool
}

// CloseRequest closes a ticket.
type CloseRequest struct {
	TicketID int64
	ActorID  string
	Reason   string
}

// CloseResult reports a close. FlushError is set when the ticket closed but
// its transcript could not be flushed; the lines stay buffered for retry.
type CloseResult struct {
	Ticket        model.Ticket
	AlreadyClosed bool
	Transcript    *FlushResult
	FlushError    error
}

// CleanupResult reports an orphan cleanup.
type CleanupResult struct {
	TicketID   int64
	Cleaned    bool
	FlushError error
}

// Manager owns the ticket lifecycle. Open is serialized per (guild, user)
// by the primary key of the guard table, never by a lock in this process.
type Manager struct {
	db       *sqlx.DB
	index    *OpenTicketIndex
	channels model.ChannelFactory
	dm       model.DirectMessenger
	buffer   *Buffer
	audit    *audit.Writer

	now          func() time.Time
	openWait     time.Duration
	pollInterval time.Duration
	log          *slog.Logger
}

// NewManager creates a Manager.
func NewManager(db *sqlx.DB, index *OpenTicketIndex, channels model.ChannelFactory, dm model.DirectMessenger, buffer *Buffer, auditWriter *audit.Writer) *Manager {
	return &Manager{
		db:           db,
		index:        index,
		channels:     channels,
		dm:           dm,
		buffer:       buffer,
		audit:        auditWriter,
		now:          time.Now,
		openWait:     defaultOpenWait,
		pollInterval: defaultPollInterval,
		log:          logger.WithComponent("modmail"),
	}
}

// WithClock overrides the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithLogger overrides the logger.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.log = l
	return m
}

// WithOpenWait sets how long Open waits for a concurrent open to finish
// creating its channel.
func (m *Manager) WithOpenWait(d time.Duration) *Manager {
	if d > 0 {
		m.openWait = d
	}
	return m
}

// Index returns the open ticket index.
func (m *Manager) Index() *OpenTicketIndex {
	return m.index
}

// Buffer returns the transcript buffer.
func (m *Manager) Buffer() *Buffer {
	return m.buffer
}

// Hydrate loads every open ticket from the store into the index. Routing is
// refused until it has run. Slots left behind by a crashed open are freed.
func (m *Manager) Hydrate(ctx context.Context) error {
	guards, err := database.ListGuards(ctx, m.db)
	if err != nil {
		return database.NewStorageError("hydrate", err)
	}

	live := guards[:0]
	for _, g := range guards {
		if g.ThreadRef != "" {
			live = append(live, g)
			continue
		}
		if err := m.reclaimStale(ctx, g); err != nil {
			m.log.Warn("failed to reclaim stale open", "ticket_id", g.TicketID, "error", err)
		}
	}

	m.index.Hydrate(live)
	for _, g := range live {
		m.buffer.MarkPartial(g.TicketID)
	}
	metrics.TicketsOpen.Set(float64(m.index.Len()))
	m.log.Info("open ticket index hydrated", "tickets", m.index.Len())
	return nil
}

func (m *Manager) reclaimStale(ctx context.Context, g model.OpenTicketGuard) error {
	ticket, err := database.GetTicket(ctx, m.db, g.TicketID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if ticket != nil && m.now().Sub(time.Unix(ticket.CreatedAt, 0)) < staleOpenAge {
		return nil
	}
	return m.compensate(ctx, OpenRequest{GuildID: g.GuildID, UserID: g.UserID, InitiatorID: SystemActor}, g.TicketID, errors.New("stale open reclaimed at startup"))
}

// Open returns the open ticket of the pair, creating ticket and channel if
// there is none. Concurrent calls for the same pair produce one ticket; the
// others get AlreadyOpen with the same thread.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	if req.GuildID == "" || req.UserID == "" {
		return OpenResult{}, fmt.Errorf("guild id and user id are required")
	}
	if req.InitiatorID == "" {
		req.InitiatorID = req.UserID
	}

	for attempt := 0; attempt < maxOpenAttempts; attempt++ {
		ticketID, err := m.claim(ctx, req)
		if err == nil {
			return m.createChannel(ctx, req, ticketID)
		}
		if !errors.Is(err, errSlotTaken) {
			metrics.TicketsOpened.WithLabelValues("error").Inc()
			return OpenResult{}, database.NewStorageError("open ticket", err)
		}

		guard, err := m.awaitThread(ctx, req.GuildID, req.UserID)
		if errors.Is(err, database.ErrNotFound) {
			// Closed between our insert and the read; try to claim again.
			continue
		}
		if err != nil {
			metrics.TicketsOpened.WithLabelValues("error").Inc()
			return OpenResult{}, err
		}
		metrics.TicketsOpened.WithLabelValues("already_open").Inc()
		return OpenResult{TicketID: guard.TicketID, ThreadRef: guard.ThreadRef, AlreadyOpen: true}, nil
	}
	metrics.TicketsOpened.WithLabelValues("error").Inc()
	return OpenResult{}, fmt.Errorf("failed to open ticket for user %s after %d attempts", req.UserID, maxOpenAttempts)
}

// claim inserts the ticket row and its guard in one transaction.
func (m *Manager) claim(ctx context.Context, req OpenRequest) (int64, error) {
	var ticketID int64
	err := database.WithTx(ctx, m.db, func(tx *sqlx.Tx) error {
		var err error
		ticketID, err = database.InsertTicket(ctx, tx, model.Ticket{
			GuildID:   req.GuildID,
			UserID:    req.UserID,
			Status:    model.TicketOpen,
			CreatedAt: m.now().Unix(),
		})
		if err != nil {
			return err
		}
		err = database.InsertGuard(ctx, tx, model.OpenTicketGuard{GuildID: req.GuildID, UserID: req.UserID, TicketID: ticketID})
		if database.IsUniqueViolation(err) {
			return errSlotTaken
		}
		return err
	})
	return ticketID, err
}

// awaitThread reads the existing guard of a pair, polling while its channel
// is still being created.
func (m *Manager) awaitThread(ctx context.Context, guildID, userID string) (*model.OpenTicketGuard, error) {
	ctx, cancel := context.WithTimeout(ctx, m.openWait)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		guard, err := database.GetGuard(ctx, m.db, guildID, userID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		if err != nil && ctx.Err() == nil {
			return nil, database.NewStorageError("read open ticket", err)
		}
		if err == nil && guard.ThreadRef != "" {
			return guard, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w for user %s", ErrOpenInProgress, userID)
		case <-ticker.C:
		}
	}
}

func (m *Manager) createChannel(ctx context.Context, req OpenRequest, ticketID int64) (OpenResult, error) {
	participants := []string{req.UserID}
	if req.InitiatorID != req.UserID {
		participants = append(participants, req.InitiatorID)
	}

	ch, err := m.channels.CreateChannel(ctx, req.GuildID, participants)
	if err != nil {
		m.log.Error("failed to create ticket channel",
			"guild_id", req.GuildID, "user_id", req.UserID, "ticket_id", ticketID, "error", err)
		if cerr := m.compensate(ctx, req, ticketID, err); cerr != nil {
			m.log.Error("failed to release open ticket slot", "ticket_id", ticketID, "error", cerr)
		}
		metrics.TicketsOpened.WithLabelValues("failed").Inc()
		return OpenResult{}, fmt.Errorf("failed to create ticket channel: %w", err)
	}
	ref := ch.Ref()

	err = database.WithTx(ctx, m.db, func(tx *sqlx.Tx) error {
		if err := database.SetGuardThread(ctx, tx, ticketID, ref); err != nil {
			return err
		}
		if err := database.SetTicketThread(ctx, tx, ticketID, ref); err != nil {
			return err
		}
		_, err := m.audit.Append(ctx, tx, audit.Entry{
			GuildID:   req.GuildID,
			ActorID:   req.InitiatorID,
			SubjectID: req.UserID,
			Action:    audit.ActionModmailOpen,
			Meta:      map[string]any{"ticket_id": ticketID, "thread_ref": ref},
		})
		return err
	})
	if err != nil {
		storageErr := database.NewStorageError("open ticket", err)
		m.log.Error("failed to bind ticket channel",
			"ticket_id", ticketID, "thread_ref", ref, "correlation_id", storageErr.CorrelationID, "error", err)
		if cerr := m.compensate(ctx, req, ticketID, err); cerr != nil {
			m.log.Error("failed to release open ticket slot", "ticket_id", ticketID, "error", cerr)
		}
		// Nothing points at the thread anymore.
		if derr := m.channels.DeleteChannel(context.WithoutCancel(ctx), ref); derr != nil {
			m.log.Warn("failed to delete unbound ticket channel", "thread_ref", ref, "error", derr)
		}
		metrics.TicketsOpened.WithLabelValues("failed").Inc()
		return OpenResult{}, storageErr
	}

	m.index.Put(IndexEntry{TicketID: ticketID, GuildID: req.GuildID, UserID: req.UserID, ThreadRef: ref})
	metrics.TicketsOpened.WithLabelValues("opened").Inc()
	metrics.TicketsOpen.Set(float64(m.index.Len()))
	m.log.Info("ticket opened", "ticket_id", ticketID, "guild_id", req.GuildID, "user_id", req.UserID, "thread_ref", ref)
	return OpenResult{TicketID: ticketID, ThreadRef: ref}, nil
}

// compensate frees the slot claimed by a failed open. It runs even if the
// caller's context is already cancelled.
func (m *Manager) compensate(ctx context.Context, req OpenRequest, ticketID int64, cause error) error {
	ctx = context.WithoutCancel(ctx)
	return database.WithTx(ctx, m.db, func(tx *sqlx.Tx) error {
		if err := database.DeleteGuardForTicket(ctx, tx, ticketID); err != nil {
			return err
		}
		if err := database.DeleteTicket(ctx, tx, ticketID); err != nil {
			return err
		}
		_, err := m.audit.Append(ctx, tx, audit.Entry{
			GuildID:   req.GuildID,
			ActorID:   req.InitiatorID,
			SubjectID: req.UserID,
			Action:    audit.ActionModmailOpenFail,
			Reason:    cause.Error(),
			Meta:      map[string]any{"ticket_id": ticketID},
		})
		return err
	})
}

// Close closes a ticket, releases its guard and flushes its transcript.
// Closing a closed ticket succeeds with AlreadyClosed.
func (m *Manager) Close(ctx context.Context, req CloseRequest) (CloseResult, error) {
	var res CloseResult
	err := database.WithTx(ctx, m.db, func(tx *sqlx.Tx) error {
		res = CloseResult{}
		ticket, err := database.GetTicket(ctx, tx, req.TicketID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		res.Ticket = *ticket
		if ticket.Status == model.TicketClosed {
			res.AlreadyClosed = true
			return nil
		}

		now := m.now().Unix()
		if _, err := database.CloseTicket(ctx, tx, ticket.ID, now); err != nil {
			return err
		}
		if err := database.DeleteGuardForTicket(ctx, tx, ticket.ID); err != nil {
			return err
		}
		_, err = m.audit.Append(ctx, tx, audit.Entry{
			GuildID:   ticket.GuildID,
			ActorID:   req.ActorID,
			SubjectID: ticket.UserID,
			Action:    audit.ActionModmailClose,
			Reason:    req.Reason,
			Meta:      map[string]any{"ticket_id": ticket.ID, "thread_ref": ticket.ThreadRef},
		})
		if err != nil {
			return err
		}
		res.Ticket.Status = model.TicketClosed
		res.Ticket.ClosedAt.Int64, res.Ticket.ClosedAt.Valid = now, true
		return nil
	})
	if errors.Is(err, ErrTicketNotFound) {
		return CloseResult{}, fmt.Errorf("%w: %d", ErrTicketNotFound, req.TicketID)
	}
	if err != nil {
		storageErr := database.NewStorageError("close ticket", err)
		m.log.Error("failed to close ticket",
			"ticket_id", req.TicketID, "correlation_id", storageErr.CorrelationID, "error", err)
		return CloseResult{}, storageErr
	}

	if res.AlreadyClosed {
		// A previous close may have left an unflushed transcript behind.
		if !m.hasPending(req.TicketID) {
			return res, nil
		}
	} else {
		m.index.Remove(req.TicketID)
		metrics.TicketsOpen.Set(float64(m.index.Len()))
		m.log.Info("ticket closed", "ticket_id", req.TicketID, "actor_id", req.ActorID)
	}

	flush, err := m.buffer.Flush(ctx, req.TicketID)
	if err != nil {
		res.FlushError = err
		return res, nil
	}
	res.Transcript = &flush
	return res, nil
}

// CloseThread closes the open ticket bound to a thread.
func (m *Manager) CloseThread(ctx context.Context, threadRef, actorID, reason string) (CloseResult, error) {
	guard, err := database.GetGuardByThread(ctx, m.db, threadRef)
	if errors.Is(err, database.ErrNotFound) {
		return CloseResult{}, fmt.Errorf("%w for thread %s", ErrNoOpenTicket, threadRef)
	}
	if err != nil {
		return CloseResult{}, database.NewStorageError("close ticket", err)
	}
	return m.Close(ctx, CloseRequest{TicketID: guard.TicketID, ActorID: actorID, Reason: reason})
}

func (m *Manager) hasPending(ticketID int64) bool {
	return len(m.buffer.Lines(ticketID)) > 0
}

// HandleChannelDeleted cleans up after a ticket channel deleted out of band.
// It races harmlessly with Close: whichever deletes the guard first wins and
// the other becomes a no-op.
func (m *Manager) HandleChannelDeleted(ctx context.Context, threadRef string) (CleanupResult, error) {
	if threadRef == "" {
		return CleanupResult{}, nil
	}

	var res CleanupResult
	err := database.WithTx(ctx, m.db, func(tx *sqlx.Tx) error {
		res = CleanupResult{}
		guard, err := database.GetGuardByThread(ctx, tx, threadRef)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res.TicketID = guard.TicketID

		if _, err := database.CloseTicket(ctx, tx, guard.TicketID, m.now().Unix()); err != nil {
			return err
		}
		if err := database.DeleteGuardForTicket(ctx, tx, guard.TicketID); err != nil {
			return err
		}
		_, err = m.audit.Append(ctx, tx, audit.Entry{
			GuildID:   guard.GuildID,
			ActorID:   SystemActor,
			SubjectID: guard.UserID,
			Action:    audit.ActionModmailOrphan,
			Reason:    "ticket channel deleted",
			Meta:      map[string]any{"ticket_id": guard.TicketID, "thread_ref": threadRef},
		})
		if err != nil {
			return err
		}
		res.Cleaned = true
		return nil
	})
	if err != nil {
		return CleanupResult{}, database.NewStorageError("orphan cleanup", err)
	}

	if entry, ok := m.index.ByThread(threadRef); ok {
		m.index.Remove(entry.TicketID)
	}
	if res.Cleaned {
		m.index.Remove(res.TicketID)
		metrics.TicketsOpen.Set(float64(m.index.Len()))
		m.log.Info("orphaned ticket cleaned up", "ticket_id", res.TicketID, "thread_ref", threadRef)
		if _, err := m.buffer.Flush(ctx, res.TicketID); err != nil {
			res.FlushError = err
		}
	}
	return res, nil
}

// RetryPendingTranscripts flushes buffered transcripts of closed tickets and
// returns how many were flushed.
func (m *Manager) RetryPendingTranscripts(ctx context.Context) (int, error) {
	flushed := 0
	for _, id := range m.buffer.Pending() {
		if ctx.Err() != nil {
			return flushed, ctx.Err()
		}
		ticket, err := database.GetTicket(ctx, m.db, id)
		if err != nil || ticket.Status != model.TicketClosed {
			continue
		}
		if _, err := m.buffer.Flush(ctx, id); err != nil {
			continue
		}
		flushed++
	}
	return flushed, nil
}
