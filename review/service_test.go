package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatekeeper/audit"
	"gatekeeper/decision"
	"gatekeeper/delivery"
	"gatekeeper/model"
	"gatekeeper/utils/database"
	"gatekeeper/utils/database/dbtest"
	"gatekeeper/utils/logger"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

type fakeDeliverer struct {
	targets []delivery.Target
	result  delivery.Result
}

func (d *fakeDeliverer) Deliver(_ context.Context, t delivery.Target) delivery.Result {
	d.targets = append(d.targets, t)
	return d.result
}

type stubMember struct{}

func (stubMember) UserID() string                                  { return "u1" }
func (stubMember) HasRole(string) bool                             { return false }
func (stubMember) GrantRole(context.Context, string) error         { return nil }
func (stubMember) SendDirectMessage(context.Context, string) error { return nil }
func (stubMember) Kick(context.Context, string) error              { return nil }

func setup(t *testing.T, status model.ApplicationStatus) (*Service, *fakeDeliverer, *sqlx.DB, model.Application) {
	t.Helper()
	db := dbtest.Open(t)
	clock := func() time.Time { return fixedNow }
	w := audit.NewWriter(db).WithClock(clock)
	engine := decision.NewEngine(db, w).WithClock(clock).WithLogger(logger.Discard())
	flow := &fakeDeliverer{result: delivery.Result{Member: stubMember{}, RoleApplied: true, DMSent: true}}

	app := model.Application{
		ID:        "abc123ef-0000-4000-8000-000000000001",
		GuildID:   "g1",
		UserID:    "u1",
		Status:    status,
		CreatedAt: fixedNow.Unix(),
		UpdatedAt: fixedNow.Unix(),
	}
	require.NoError(t, database.InsertApplication(context.Background(), db, app))
	return NewService(db, engine, flow, w).WithLogger(logger.Discard()), flow, db, app
}

func TestDecideDeliversOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	svc, flow, db, app := setup(t, model.StatusSubmitted)

	req := Request{Request: decision.Request{GuildID: "g1", ApplicationID: app.ID, ModeratorID: "mod1", Kind: decision.KindApprove}}
	resp, err := svc.Decide(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, decision.Changed, resp.Decision.Outcome)
	require.NotNil(t, resp.Delivery)
	require.Len(t, flow.targets, 1)
	assert.Equal(t, "u1", flow.targets[0].UserID)
	assert.Equal(t, "Application ABC123 approved. Role applied. DM sent.", resp.Message())

	resp, err = svc.Decide(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, decision.AlreadyInState, resp.Decision.Outcome)
	assert.Nil(t, resp.Delivery)
	assert.Len(t, flow.targets, 1, "no second delivery")
	assert.Equal(t, "Application ABC123 is already approved (by <@mod1> on 2024-03-09).", resp.Message())

	entries, err := audit.NewWriter(db).List(ctx, audit.Filter{Action: audit.ActionDecisionDelivery})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	meta, err := audit.DecodeMeta(entries[0])
	require.NoError(t, err)
	assert.Equal(t, true, meta["role_applied"])
	assert.Equal(t, true, meta["dm_sent"])
	assert.Equal(t, app.ID, meta["application_id"])
}

func TestDecideCompletesAfterCallerCancels(t *testing.T) {
	svc, flow, db, app := setup(t, model.StatusSubmitted)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := svc.Decide(ctx, Request{Request: decision.Request{GuildID: "g1", ApplicationID: app.ID, ModeratorID: "mod1", Kind: decision.KindApprove}})
	require.NoError(t, err)
	assert.Equal(t, decision.Changed, resp.Decision.Outcome)
	assert.Len(t, flow.targets, 1)

	entries, err := audit.NewWriter(db).List(context.Background(), audit.Filter{Action: audit.ActionDecisionDelivery})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDecideTerminalConflictMessage(t *testing.T) {
	ctx := context.Background()
	svc, flow, _, app := setup(t, model.StatusSubmitted)

	_, err := svc.Decide(ctx, Request{Request: decision.Request{GuildID: "g1", ApplicationID: app.ID, ModeratorID: "mod1", Kind: decision.KindReject, Reason: "spam"}})
	require.NoError(t, err)

	resp, err := svc.Decide(ctx, Request{Request: decision.Request{GuildID: "g1", ApplicationID: app.ID, ModeratorID: "mod2", Kind: decision.KindApprove}})
	require.NoError(t, err)
	assert.Equal(t, decision.TerminalConflict, resp.Decision.Outcome)
	assert.Equal(t, "Application ABC123 was already rejected (by <@mod1> on 2024-03-09) and can no longer be changed.", resp.Message())
	assert.Len(t, flow.targets, 1)
}

func TestDecideDraftMessage(t *testing.T) {
	svc, _, _, app := setup(t, model.StatusDraft)
	resp, err := svc.Decide(context.Background(), Request{Request: decision.Request{GuildID: "g1", ApplicationID: app.ID, ModeratorID: "mod1", Kind: decision.KindApprove}})
	require.NoError(t, err)
	assert.Equal(t, "Application ABC123 has not been submitted yet.", resp.Message())
}

func TestDeliverySummary(t *testing.T) {
	denied := &model.PlatformError{Op: "grant role", Code: model.CodePermissionDenied, Err: errors.New("50013")}
	parts := deliverySummary(decision.KindApprove, delivery.Result{Member: stubMember{}, RoleError: denied, RoleErrorExpected: true})
	assert.Equal(t, []string{"Role not applied: the bot is missing permissions.", "DM could not be delivered."}, parts)

	parts = deliverySummary(decision.KindKick, delivery.Result{Member: stubMember{}, DMSent: true, KickApplied: true})
	assert.Equal(t, []string{"DM sent.", "Member kicked."}, parts)

	parts = deliverySummary(decision.KindReject, delivery.Result{})
	assert.Equal(t, []string{"Member is no longer in the server.", "DM could not be delivered."}, parts)
}

func TestFailureMessage(t *testing.T) {
	se := &database.StorageError{Op: "decide", CorrelationID: "c0ffee", Err: errors.New("disk full")}
	msg := FailureMessage(se)
	assert.Contains(t, msg, "c0ffee")
	assert.NotContains(t, msg, "disk full")

	_, err := decision.ParseKind("ban")
	assert.Equal(t, err.Error(), FailureMessage(err))
	assert.Equal(t, "Application not found.", FailureMessage(decision.ErrApplicationNotFound))
}
