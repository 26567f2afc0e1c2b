package model

import (
	"database/sql"
	"strings"
)

// ApplicationStatus is the lifecycle state of an application.
type ApplicationStatus string

const (
	StatusDraft     ApplicationStatus = "draft"
	StatusSubmitted ApplicationStatus = "submitted"
	StatusNeedsInfo ApplicationStatus = "needs_info"
	StatusApproved  ApplicationStatus = "approved"
	StatusRejected  ApplicationStatus = "rejected"
	StatusKicked    ApplicationStatus = "kicked"
)

// IsTerminal reports whether no further decision may move the application.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusKicked:
		return true
	}
	return false
}

// IsReviewable reports whether staff may decide on an application in this state.
func (s ApplicationStatus) IsReviewable() bool {
	return s == StatusSubmitted || s == StatusNeedsInfo
}

// Application represents a single row of the 'application' table.
type Application struct {
	ID                  string            `db:"id"`
	GuildID             string            `db:"guild_id"`
	UserID              string            `db:"user_id"`
	Status              ApplicationStatus `db:"status"`
	PermanentlyRejected bool              `db:"permanently_rejected"`
	ResolutionReason    sql.NullString    `db:"reason"`
	CreatedAt           int64             `db:"created_at"`
	UpdatedAt           int64             `db:"updated_at"`
}

// ShortCode returns the human-readable code shown to staff. It is derived
// from the id and must never be used as a lookup key.
func (a Application) ShortCode() string {
	return ShortCode(a.ID)
}

// ShortCode derives a 6 character uppercase code from an application id.
func ShortCode(id string) string {
	code := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(code) > 6 {
		code = code[:6]
	}
	return code
}

// ReviewAction is the audit row written once per successful decision.
// The table is named 'review_action'.
type ReviewAction struct {
	ID            int64          `db:"id"`
	ApplicationID string         `db:"application_id"`
	ModeratorID   string         `db:"moderator_id"`
	Action        string         `db:"action"`
	Reason        sql.NullString `db:"reason"`
	CreatedAt     int64          `db:"created_at"` // unix seconds
}
