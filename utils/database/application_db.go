package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatekeeper/model"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// InsertApplication adds a new application row.
func InsertApplication(ctx context.Context, e sqlx.ExtContext, app model.Application) error {
	query := `INSERT INTO application (id, guild_id, user_id, status, permanently_rejected, reason, created_at, updated_at)
			  VALUES (:id, :guild_id, :user_id, :status, :permanently_rejected, :reason, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, e, query, app); err != nil {
		return fmt.Errorf("failed to insert application %s: %w", app.ID, err)
	}
	return nil
}

// GetApplication retrieves a single application by id.
func GetApplication(ctx context.Context, q sqlx.QueryerContext, id string) (*model.Application, error) {
	var app model.Application
	err := sqlx.GetContext(ctx, q, &app, "SELECT * FROM application WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application %s: %w", id, err)
	}
	return &app, nil
}

// UpdateApplicationDecision moves an application from one status to another.
// The update only applies if the row is still in the expected status; the
// returned count is 0 otherwise.
func UpdateApplicationDecision(ctx context.Context, e sqlx.ExecerContext, id string, from, to model.ApplicationStatus, permanentlyRejected bool, reason sql.NullString, now int64) (int64, error) {
	query := `UPDATE application
			  SET status = ?, permanently_rejected = CASE WHEN ? THEN 1 ELSE permanently_rejected END, reason = ?, updated_at = ?
			  WHERE id = ? AND status = ?`
	result, err := e.ExecContext(ctx, query, to, permanentlyRejected, reason, now, id, from)
	if err != nil {
		return 0, fmt.Errorf("failed to update status of application %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected for application %s: %w", id, err)
	}
	return rowsAffected, nil
}

// InsertReviewAction appends a review action and returns its id.
func InsertReviewAction(ctx context.Context, e sqlx.ExecerContext, action model.ReviewAction) (int64, error) {
	query := `INSERT INTO review_action (application_id, moderator_id, action, reason, created_at) VALUES (?, ?, ?, ?, ?)`
	result, err := e.ExecContext(ctx, query, action.ApplicationID, action.ModeratorID, action.Action, action.Reason, action.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert review action: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// LatestReviewAction returns the newest review action of an application, or nil if none.
func LatestReviewAction(ctx context.Context, q sqlx.QueryerContext, applicationID string) (*model.ReviewAction, error) {
	var action model.ReviewAction
	query := "SELECT * FROM review_action WHERE application_id = ? ORDER BY created_at DESC, id DESC LIMIT 1"
	err := sqlx.GetContext(ctx, q, &action, query, applicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest review action for application %s: %w", applicationID, err)
	}
	return &action, nil
}

// ListReviewActions returns all review actions of an application, oldest first.
func ListReviewActions(ctx context.Context, q sqlx.QueryerContext, applicationID string) ([]model.ReviewAction, error) {
	var actions []model.ReviewAction
	query := "SELECT * FROM review_action WHERE application_id = ? ORDER BY created_at, id"
	if err := sqlx.SelectContext(ctx, q, &actions, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to list review actions for application %s: %w", applicationID, err)
	}
	return actions, nil
}
