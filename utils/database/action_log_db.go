package database

import (
	"context"
	"fmt"
	"strings"

	"gatekeeper/model"

	"github.com/jmoiron/sqlx"
)

// ActionLogFilter narrows an action log query. Zero values are ignored.
type ActionLogFilter struct {
	GuildID   string
	ActorID   string
	SubjectID string
	Action    string
	Since     int64
	Limit     int
}

// InsertActionLog appends an action log entry and returns its id.
func InsertActionLog(ctx context.Context, e sqlx.ExecerContext, entry model.ActionLogEntry) (int64, error) {
	query := `INSERT INTO action_log (guild_id, actor_id, subject_id, action, reason, meta, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := e.ExecContext(ctx, query, entry.GuildID, entry.ActorID, entry.SubjectID, entry.Action, entry.Reason, entry.Meta, entry.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert action log entry %s: %w", entry.Action, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// ListActionLog returns matching entries, newest first.
func ListActionLog(ctx context.Context, q sqlx.QueryerContext, filter ActionLogFilter) ([]model.ActionLogEntry, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.GuildID != "" {
		conds = append(conds, "guild_id = ?")
		args = append(args, filter.GuildID)
	}
	if filter.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.SubjectID != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Since > 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since)
	}

	query := "SELECT * FROM action_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var entries []model.ActionLogEntry
	if err := sqlx.SelectContext(ctx, q, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list action log: %w", err)
	}
	return entries, nil
}
