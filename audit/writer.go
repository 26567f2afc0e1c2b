// Package audit appends and queries the action log shared by the decision
// and modmail subsystems.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gatekeeper/model"
	"gatekeeper/utils/database"

	"github.com/jmoiron/sqlx"
)

// Known action kinds. The column is free text; new kinds need no migration.
const (
	ActionApprove          = "approve"
	ActionReject           = "reject"
	ActionPermReject       = "perm_reject"
	ActionKick             = "kick"
	ActionNeedInfo         = "need_info"
	ActionDecisionDelivery = "decision_delivery"
	ActionModmailOpen      = "modmail_open"
	ActionModmailOpenFail  = "modmail_open_failed"
	ActionModmailClose     = "modmail_close"
	ActionModmailOrphan    = "modmail_orphan_cleanup"
	ActionTranscriptFlush  = "modmail_transcript"
)

var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ErrInvalidEntry is returned for entries missing required fields.
var ErrInvalidEntry = errors.New("invalid action log entry")

// Entry is a record to append. Meta is marshalled to a JSON object.
type Entry struct {
	GuildID   string
	ActorID   string
	SubjectID string
	Action    string
	Reason    string
	Meta      map[string]any
}

// Filter selects entries for List.
type Filter = database.ActionLogFilter

// Writer appends action log records. It never opens its own transaction:
// callers pass the tx of the state change being audited.
type Writer struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewWriter creates a Writer reading from db.
func NewWriter(db *sqlx.DB) *Writer {
	return &Writer{db: db, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Append validates and writes one entry through e.
func (w *Writer) Append(ctx context.Context, e sqlx.ExecerContext, entry Entry) (int64, error) {
	if err := Validate(entry); err != nil {
		return 0, err
	}
	meta := "{}"
	if len(entry.Meta) > 0 {
		b, err := json.Marshal(entry.Meta)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize action log meta: %w", err)
		}
		meta = string(b)
	}
	return database.InsertActionLog(ctx, e, model.ActionLogEntry{
		GuildID:   entry.GuildID,
		ActorID:   entry.ActorID,
		SubjectID: entry.SubjectID,
		Action:    entry.Action,
		Reason:    sql.NullString{String: entry.Reason, Valid: entry.Reason != ""},
		Meta:      meta,
		CreatedAt: w.now().Unix(),
	})
}

// List returns matching entries, newest first.
func (w *Writer) List(ctx context.Context, filter Filter) ([]model.ActionLogEntry, error) {
	entries, err := database.ListActionLog(ctx, w.db, filter)
	if err != nil {
		return nil, database.NewStorageError("list action log", err)
	}
	return entries, nil
}

// Validate checks the required fields of an entry.
func Validate(entry Entry) error {
	if entry.GuildID == "" {
		return fmt.Errorf("%w: guild id is required", ErrInvalidEntry)
	}
	if entry.ActorID == "" {
		return fmt.Errorf("%w: actor id is required", ErrInvalidEntry)
	}
	if !actionPattern.MatchString(entry.Action) {
		return fmt.Errorf("%w: malformed action %q", ErrInvalidEntry, entry.Action)
	}
	return nil
}

// DecodeMeta unmarshals the JSON meta of a stored entry.
func DecodeMeta(entry model.ActionLogEntry) (map[string]any, error) {
	meta := map[string]any{}
	if entry.Meta == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(entry.Meta), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode meta of action log entry %d: %w", entry.ID, err)
	}
	return meta, nil
}
