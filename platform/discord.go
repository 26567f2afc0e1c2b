// Package platform binds the core's capability interfaces to Discord.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"gatekeeper/model"
	"gatekeeper/utils"
	"gatekeeper/utils/logger"

	"github.com/bwmarrin/discordgo"
)

// modmail threads archive after a week of inactivity
const threadArchiveMinutes = 10080

// maxThreadName is the Discord limit, in characters, for a channel name.
const maxThreadName = 100

// GuildSettings resolves per-guild configuration. *model.Config implements it.
type GuildSettings interface {
	Guild(guildID string) (model.GuildConfig, bool)
}

// Discord implements MemberDirectory, DirectMessenger, GuildNamer,
// ChannelFactory and LogSink on top of a discordgo session.
type Discord struct {
	session  *discordgo.Session
	settings GuildSettings
	log      *slog.Logger

	// fallbackLogChannel receives transcripts of guilds without a transcript channel.
	fallbackLogChannel string

	names sync.Map // guild id -> name
}

var (
	_ model.MemberDirectory = (*Discord)(nil)
	_ model.DirectMessenger = (*Discord)(nil)
	_ model.GuildNamer      = (*Discord)(nil)
	_ model.ChannelFactory  = (*Discord)(nil)
	_ model.LogSink         = (*Discord)(nil)
)

// New creates the adapter.
func New(session *discordgo.Session, settings GuildSettings, fallbackLogChannel string) *Discord {
	return &Discord{
		session:            session,
		settings:           settings,
		fallbackLogChannel: fallbackLogChannel,
		log:                logger.WithComponent("platform"),
	}
}

type member struct {
	d       *Discord
	guildID string
	m       *discordgo.Member
}

func (m *member) UserID() string { return m.m.User.ID }

func (m *member) HasRole(roleID string) bool { return slices.Contains(m.m.Roles, roleID) }

func (m *member) GrantRole(ctx context.Context, roleID string) error {
	err := m.d.session.GuildMemberRoleAdd(m.guildID, m.UserID(), roleID, discordgo.WithContext(ctx))
	if err != nil {
		return classify("grant role", err)
	}
	m.m.Roles = append(m.m.Roles, roleID)
	return nil
}

func (m *member) SendDirectMessage(ctx context.Context, content string) error {
	return m.d.SendDirectMessage(ctx, m.UserID(), content)
}

func (m *member) Kick(ctx context.Context, reason string) error {
	err := m.d.session.GuildMemberDeleteWithReason(m.guildID, m.UserID(), reason, discordgo.WithContext(ctx))
	return classify("kick member", err)
}

// FetchMember returns model.ErrMemberNotFound if the user is not in the guild.
func (d *Discord) FetchMember(ctx context.Context, guildID, userID string) (model.Member, error) {
	m, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if codeOf(err) == model.CodeNotFound {
			return nil, fmt.Errorf("%w: user %s in guild %s", model.ErrMemberNotFound, userID, guildID)
		}
		return nil, classify("fetch member", err)
	}
	if m.User == nil {
		m.User = &discordgo.User{ID: userID}
	}
	return &member{d: d, guildID: guildID, m: m}, nil
}

func (d *Discord) SendDirectMessage(ctx context.Context, userID, content string) error {
	return classify("direct message", utils.SendPrivateMessage(ctx, d.session, userID, content))
}

// GuildName returns the display name of a guild. The configured name wins
// over the one reported by Discord.
func (d *Discord) GuildName(ctx context.Context, guildID string) (string, error) {
	if cfg, ok := d.settings.Guild(guildID); ok && cfg.Name != "" {
		return cfg.Name, nil
	}
	if name, ok := d.names.Load(guildID); ok {
		return name.(string), nil
	}
	g, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify("fetch guild", err)
	}
	d.names.Store(guildID, g.Name)
	return g.Name, nil
}

type thread struct {
	d   *Discord
	ref string
}

func (t *thread) Ref() string { return t.ref }

func (t *thread) Send(ctx context.Context, content string) error {
	return classify("send to thread", utils.SendChunked(ctx, t.d.session, t.ref, content))
}

// CreateChannel starts a private thread in the guild's modmail channel and
// adds the staff participants. The user side of a ticket is relayed by DM.
func (d *Discord) CreateChannel(ctx context.Context, guildID string, participants []string) (model.Channel, error) {
	cfg, ok := d.settings.Guild(guildID)
	if !ok || cfg.ModmailChannelID == "" {
		return nil, fmt.Errorf("no modmail channel configured for guild %s", guildID)
	}
	if len(participants) == 0 {
		return nil, errors.New("ticket channel needs at least the user as participant")
	}

	ch, err := d.session.ThreadStartComplex(cfg.ModmailChannelID, &discordgo.ThreadStart{
		Name:                threadName(d.username(ctx, participants[0]), participants[0]),
		AutoArchiveDuration: threadArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPrivateThread,
		Invitable:           false,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("create thread", err)
	}

	for _, staffID := range participants[1:] {
		if err := d.session.ThreadMemberAdd(ch.ID, staffID, discordgo.WithContext(ctx)); err != nil {
			d.log.Warn("failed to add staff to ticket thread", "thread_id", ch.ID, "user_id", staffID, "error", err)
		}
	}
	return &thread{d: d, ref: ch.ID}, nil
}

func (d *Discord) username(ctx context.Context, userID string) string {
	u, err := d.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return ""
	}
	return u.Username
}

func threadName(username, userID string) string {
	if username == "" {
		return "modmail-" + userID
	}
	name := []rune("modmail-" + strings.ToLower(username))
	if len(name) > maxThreadName {
		name = name[:maxThreadName]
	}
	return string(name)
}

// DeleteChannel deletes a ticket thread. An already deleted thread is not an error.
func (d *Discord) DeleteChannel(ctx context.Context, ref string) error {
	if _, err := d.session.ChannelDelete(ref, discordgo.WithContext(ctx)); err != nil {
		err = classify("delete thread", err)
		if model.CodeOf(err) == model.CodeNotFound {
			return nil
		}
		return err
	}
	return nil
}

// Channel returns a handle for an existing ticket thread.
func (d *Discord) Channel(ref string) model.Channel {
	return &thread{d: d, ref: ref}
}

// WriteTranscript uploads the transcript as a text file to the guild's
// transcript channel.
func (d *Discord) WriteTranscript(ctx context.Context, ticket model.Ticket, document string) error {
	channelID := d.fallbackLogChannel
	if cfg, ok := d.settings.Guild(ticket.GuildID); ok && cfg.TranscriptChannelID != "" {
		channelID = cfg.TranscriptChannelID
	}
	if channelID == "" {
		d.log.Warn("no transcript channel configured, keeping stored copy only", "guild_id", ticket.GuildID, "ticket_id", ticket.ID)
		return nil
	}

	_, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("Transcript of ticket #%d with <@%s>", ticket.ID, ticket.UserID),
		Files: []*discordgo.File{{
			Name:        fmt.Sprintf("ticket-%d.txt", ticket.ID),
			ContentType: "text/plain; charset=utf-8",
			Reader:      strings.NewReader(document),
		}},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	return classify("upload transcript", err)
}
