// Package review wires the decision engine to delivery and audit. It is the
// entry point used by staff commands.
package review

import (
	"context"
	"log/slog"

	"gatekeeper/audit"
	"gatekeeper/decision"
	"gatekeeper/delivery"
	"gatekeeper/utils/logger"

	"github.com/jmoiron/sqlx"
)

// Request is a staff decision plus an optional note forwarded to the user.
type Request struct {
	decision.Request
	ModeratorNote string
}

// Response carries the committed decision and, for Changed, what delivery did.
type Response struct {
	Kind     decision.Kind
	Decision decision.Result
	Delivery *delivery.Result
}

// Deliverer applies post-decision side effects. *delivery.Flow implements it.
type Deliverer interface {
	Deliver(ctx context.Context, t delivery.Target) delivery.Result
}

// Service runs a decision end to end.
type Service struct {
	engine *decision.Engine
	flow   Deliverer
	audit  *audit.Writer
	db     *sqlx.DB
	log    *slog.Logger
}

// NewService creates a Service.
func NewService(db *sqlx.DB, engine *decision.Engine, flow Deliverer, auditWriter *audit.Writer) *Service {
	return &Service{
		engine: engine,
		flow:   flow,
		audit:  auditWriter,
		db:     db,
		log:    logger.WithComponent("review"),
	}
}

// WithLogger overrides the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.log = l
	return s
}

// Decide commits the decision and, only when it changed the application,
// delivers its effects and records the delivery outcome. Delivery runs
// synchronously; callers that must answer quickly run Decide in a goroutine.
func (s *Service) Decide(ctx context.Context, req Request) (Response, error) {
	// A committed decision is always delivered and audited.
	ctx = context.WithoutCancel(ctx)
	res, err := s.engine.Decide(ctx, req.Request)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Kind: req.Kind, Decision: res}
	if res.Outcome != decision.Changed {
		return resp, nil
	}

	app := res.Application
	out := s.flow.Deliver(ctx, delivery.Target{
		GuildID:       app.GuildID,
		UserID:        app.UserID,
		Kind:          req.Kind,
		Reason:        req.Reason,
		ModeratorNote: req.ModeratorNote,
	})
	resp.Delivery = &out

	_, err = s.audit.Append(ctx, s.db, audit.Entry{
		GuildID:   app.GuildID,
		ActorID:   req.ModeratorID,
		SubjectID: app.UserID,
		Action:    audit.ActionDecisionDelivery,
		Meta:      deliveryMeta(app.ID, req.Kind, out),
	})
	if err != nil {
		// The decision is committed; a missing delivery record is logged only.
		s.log.Error("failed to record delivery outcome",
			"application_id", app.ID, "kind", req.Kind, "error", err)
	}
	return resp, nil
}

func deliveryMeta(appID string, kind decision.Kind, out delivery.Result) map[string]any {
	meta := map[string]any{
		"application_id": appID,
		"kind":           string(kind),
		"member_found":   out.Member != nil,
		"dm_sent":        out.DMSent,
	}
	if out.DMError != nil {
		meta["dm_error"] = out.DMError.Error()
	}
	if kind == decision.KindApprove {
		meta["role_applied"] = out.RoleApplied
		if out.RoleError != nil {
			meta["role_error"] = out.RoleError.Error()
			meta["role_error_expected"] = out.RoleErrorExpected
		}
	}
	if kind == decision.KindKick {
		meta["kick_applied"] = out.KickApplied
		if out.KickError != nil {
			meta["kick_error"] = out.KickError.Error()
		}
	}
	return meta
}
