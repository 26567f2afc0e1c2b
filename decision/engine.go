package decision

import (
	"context"
	"database/sql"
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

// Request is a staff decision on one application.
type Request struct {
	// GuildID is the guild the decision is made in; applications of other
	// guilds are not found.
	GuildID       string
	ApplicationID string
	ModeratorID   string
	Kind          Kind
	Reason        string
}

func (r Request) validate() error {
	if r.GuildID == "" {
		return fmt.Errorf("%w: guild id is required", ErrInvalidDecision)
	}
	if r.ApplicationID == "" {
		return fmt.Errorf("%w: application id is required", ErrInvalidDecision)
	}
	if r.ModeratorID == "" {
		return fmt.Errorf("%w: moderator id is required", ErrInvalidDecision)
	}
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	return nil
}

// Result is the outcome of Decide. Application is the state after the call.
// LastAction is set for every outcome except Changed and tells staff who
// settled the application and when.
type Result struct {
	Outcome        Outcome
	Application    model.Application
	Previous       model.ApplicationStatus
	ReviewActionID int64
	LastAction     *model.ReviewAction
}

// Engine commits staff decisions.
type Engine struct {
	db    *sqlx.DB
	audit *audit.Writer
	now   func() time.Time
	log   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(db *sqlx.DB, auditWriter *audit.Writer) *Engine {
	return &Engine{
		db:    db,
		audit: auditWriter,
		now:   time.Now,
		log:   logger.WithComponent("decision"),
	}
}

// WithClock overrides the time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithLogger overrides the logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.log = l
	return e
}

// Decide validates the current state, writes the new status, and appends the
// review action and audit entry in a single transaction. Only Changed writes
// anything. Store failures are returned as *database.StorageError.
// Once validated, a decision runs to completion even if ctx is cancelled.
func (e *Engine) Decide(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	ctx = context.WithoutCancel(ctx)

	var res Result
	err := database.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		res = Result{}
		app, err := database.GetApplication(ctx, tx, req.ApplicationID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrApplicationNotFound
		}
		if err != nil {
			return err
		}
		if app.GuildID != req.GuildID {
			return ErrApplicationNotFound
		}

		res.Previous = app.Status
		res.Outcome = Evaluate(app.Status, app.PermanentlyRejected, req.Kind)
		if res.Outcome != Changed {
			res.Application = *app
			res.LastAction, err = database.LatestReviewAction(ctx, tx, app.ID)
			return err
		}

		now := e.now().Unix()
		reason := sql.NullString{String: req.Reason, Valid: req.Reason != ""}
		target := req.Kind.Target()
		permanent := req.Kind == KindPermReject

		n, err := database.UpdateApplicationDecision(ctx, tx, app.ID, app.Status, target, permanent, reason, now)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("application %s left status %s during decision", app.ID, app.Status)
		}

		res.ReviewActionID, err = database.InsertReviewAction(ctx, tx, model.ReviewAction{
			ApplicationID: app.ID,
			ModeratorID:   req.ModeratorID,
			Action:        string(req.Kind),
			Reason:        reason,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}

		_, err = e.audit.Append(ctx, tx, audit.Entry{
			GuildID:   app.GuildID,
			ActorID:   req.ModeratorID,
			SubjectID: app.UserID,
			Action:    string(req.Kind),
			Reason:    req.Reason,
			Meta: map[string]any{
				"application_id":   app.ID,
				"review_action_id": res.ReviewActionID,
				"from":             string(app.Status),
				"to":               string(target),
			},
		})
		if err != nil {
			return err
		}

		app.Status = target
		app.PermanentlyRejected = app.PermanentlyRejected || permanent
		app.ResolutionReason = reason
		app.UpdatedAt = now
		res.Application = *app
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			metrics.Decisions.WithLabelValues(string(req.Kind), "not_found").Inc()
			return Result{}, fmt.Errorf("%w: %s", ErrApplicationNotFound, req.ApplicationID)
		}
		storageErr := database.NewStorageError("decide", err)
		e.log.Error("decision transaction failed",
			"application_id", req.ApplicationID,
			"kind", req.Kind,
			"correlation_id", storageErr.CorrelationID,
			"error", err)
		metrics.Decisions.WithLabelValues(string(req.Kind), "storage_error").Inc()
		return Result{}, storageErr
	}

	metrics.Decisions.WithLabelValues(string(req.Kind), string(res.Outcome)).Inc()
	e.log.Info("decision evaluated",
		"application_id", req.ApplicationID,
		"moderator_id", req.ModeratorID,
		"kind", req.Kind,
		"outcome", res.Outcome,
		"from", res.Previous,
		"to", res.Application.Status)
	return res, nil
}
