package model

import "database/sql"

// ActionLogEntry is one audit record in the 'action_log' table.
// Action is free text; Meta holds a JSON object.
type ActionLogEntry struct {
	ID        int64          `db:"id"`
	GuildID   string         `db:"guild_id"`
	ActorID   string         `db:"actor_id"`
	SubjectID string         `db:"subject_id"`
	Action    string         `db:"action"`
	Reason    sql.NullString `db:"reason"`
	Meta      string         `db:"meta"`
	CreatedAt int64          `db:"created_at"`
}
