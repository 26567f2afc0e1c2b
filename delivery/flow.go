// Package delivery applies the external side effects of a committed
// decision: the member role, the direct message and the kick.
package delivery

import (
	"context"
	"errors"
	"log/slog"

	"gatekeeper/decision"
	"gatekeeper/metrics"
	"gatekeeper/model"
	"gatekeeper/utils/logger"
)

// Effect names used in metrics and error reports.
const (
	EffectFetch = "fetch_member"
	EffectRole  = "role"
	EffectDM    = "dm"
	EffectKick  = "kick"
)

// GuildSettings resolves per-guild configuration. *model.Config implements it.
type GuildSettings interface {
	Guild(guildID string) (model.GuildConfig, bool)
}

// Target describes the decision whose effects should be delivered.
type Target struct {
	GuildID       string
	UserID        string
	Kind          decision.Kind
	Reason        string
	ModeratorNote string
}

// Result reports every effect independently. A nil Member means the user
// could not be fetched from the guild.
type Result struct {
	Member            model.Member
	RoleApplied       bool
	RoleError         error
	RoleErrorExpected bool
	DMSent            bool
	DMError           error
	KickApplied       bool
	KickError         error
}

// Flow runs the post-decision side effects.
type Flow struct {
	members  model.MemberDirectory
	dm       model.DirectMessenger
	guilds   model.GuildNamer
	settings GuildSettings
	reporter model.ErrorReporter
	log      *slog.Logger
}

// NewFlow creates a Flow. dm is used when the member cannot be fetched and
// may be nil.
func NewFlow(members model.MemberDirectory, dm model.DirectMessenger, guilds model.GuildNamer, settings GuildSettings, reporter model.ErrorReporter) *Flow {
	return &Flow{
		members:  members,
		dm:       dm,
		guilds:   guilds,
		settings: settings,
		reporter: reporter,
		log:      logger.WithComponent("delivery"),
	}
}

// WithLogger overrides the logger.
func (f *Flow) WithLogger(l *slog.Logger) *Flow {
	f.log = l
	return f
}

// Deliver applies role, DM and kick as the decision kind requires. It never
// returns an error: every failure is recorded in Result, and failures other
// than missing permissions are sent to the ErrorReporter.
func (f *Flow) Deliver(ctx context.Context, t Target) Result {
	var res Result

	member, err := f.members.FetchMember(ctx, t.GuildID, t.UserID)
	if err != nil {
		f.log.Warn("could not fetch member",
			"guild_id", t.GuildID, "user_id", t.UserID, "kind", t.Kind, "error", err)
		if !errors.Is(err, model.ErrMemberNotFound) {
			metrics.DeliveryFailures.WithLabelValues(EffectFetch, "unexpected").Inc()
		}
		member = nil
	}
	res.Member = member

	switch t.Kind {
	case decision.KindApprove:
		f.applyRole(ctx, t, &res)
		f.sendDM(ctx, t, &res)
	case decision.KindKick:
		// The user only shares the guild with the bot until the kick lands.
		f.sendDM(ctx, t, &res)
		f.kick(ctx, t, &res)
	default:
		f.sendDM(ctx, t, &res)
	}
	return res
}

func (f *Flow) applyRole(ctx context.Context, t Target, res *Result) {
	cfg, ok := f.settings.Guild(t.GuildID)
	if !ok || cfg.MemberRoleID == "" {
		f.log.Debug("no member role configured", "guild_id", t.GuildID)
		return
	}
	if res.Member == nil {
		return
	}
	if res.Member.HasRole(cfg.MemberRoleID) {
		res.RoleApplied = true
		return
	}

	err := res.Member.GrantRole(ctx, cfg.MemberRoleID)
	if err == nil {
		res.RoleApplied = true
		return
	}
	res.RoleError = err
	res.RoleErrorExpected = model.IsPermissionDenied(err)
	f.fail(ctx, EffectRole, t, err, map[string]string{"role_id": cfg.MemberRoleID})
}

func (f *Flow) sendDM(ctx context.Context, t Target, res *Result) {
	content := renderDM(t.Kind, f.guildName(ctx, t.GuildID), t.Reason, t.ModeratorNote)

	var err error
	switch {
	case res.Member != nil:
		err = res.Member.SendDirectMessage(ctx, content)
	case f.dm != nil:
		err = f.dm.SendDirectMessage(ctx, t.UserID, content)
	default:
		err = model.ErrMemberNotFound
	}
	if err != nil {
		res.DMError = err
		f.log.Warn("could not send decision DM",
			"guild_id", t.GuildID, "user_id", t.UserID, "kind", t.Kind, "error", err)
		metrics.DeliveryFailures.WithLabelValues(EffectDM, "expected").Inc()
		return
	}
	res.DMSent = true
}

func (f *Flow) kick(ctx context.Context, t Target, res *Result) {
	if res.Member == nil {
		res.KickError = model.ErrMemberNotFound
		return
	}
	reason := t.Reason
	if reason == "" {
		reason = "application kicked"
	}
	err := res.Member.Kick(ctx, reason)
	if err == nil {
		res.KickApplied = true
		return
	}
	res.KickError = err
	f.fail(ctx, EffectKick, t, err, nil)
}

func (f *Flow) guildName(ctx context.Context, guildID string) string {
	if f.guilds == nil {
		return fallbackGuildName
	}
	name, err := f.guilds.GuildName(ctx, guildID)
	if err != nil || name == "" {
		return fallbackGuildName
	}
	return name
}

// fail records a role or kick failure. Missing permissions are a
// configuration problem staff can see in the result and are not reported.
func (f *Flow) fail(ctx context.Context, effect string, t Target, err error, extra map[string]string) {
	if model.IsPermissionDenied(err) {
		f.log.Warn("delivery effect denied",
			"effect", effect, "guild_id", t.GuildID, "user_id", t.UserID, "error", err)
		metrics.DeliveryFailures.WithLabelValues(effect, "expected").Inc()
		return
	}

	f.log.Error("delivery effect failed",
		"effect", effect, "guild_id", t.GuildID, "user_id", t.UserID, "error", err)
	metrics.DeliveryFailures.WithLabelValues(effect, "unexpected").Inc()
	if f.reporter == nil {
		return
	}
	fields := map[string]string{
		"effect":   effect,
		"guild_id": t.GuildID,
		"user_id":  t.UserID,
		"kind":     string(t.Kind),
		"code":     string(model.CodeOf(err)),
	}
	for k, v := range extra {
		fields[k] = v
	}
	f.reporter.Report(ctx, err, fields)
}
