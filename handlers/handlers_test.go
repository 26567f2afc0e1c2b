package handlers

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"gatekeeper/decision"
	"gatekeeper/model"
	"gatekeeper/modmail"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func TestDecideRequest(t *testing.T) {
	req := decideRequest("g1", "mod1", []*discordgo.ApplicationCommandInteractionDataOption{
		stringOpt("application", "app-1"),
		stringOpt("decision", "reject"),
		stringOpt("reason", "spam"),
	})

	assert.Equal(t, "g1", req.GuildID)
	assert.Equal(t, "app-1", req.ApplicationID)
	assert.Equal(t, "mod1", req.ModeratorID)
	assert.Equal(t, decision.KindReject, req.Kind)
	assert.Equal(t, "spam", req.Reason)
	assert.Empty(t, req.ModeratorNote)
}

func TestIsStaff(t *testing.T) {
	guild := model.GuildConfig{StaffRoleIDs: []string{"r-staff"}}

	assert.True(t, isStaff(guild, &discordgo.Member{Roles: []string{"r-staff"}}))
	assert.True(t, isStaff(guild, &discordgo.Member{Permissions: discordgo.PermissionManageGuild}))
	assert.False(t, isStaff(guild, &discordgo.Member{Roles: []string{"r-member"}}))
}

func TestToMessage(t *testing.T) {
	msg := toMessage(&discordgo.Message{
		Author:  &discordgo.User{ID: "u1"},
		Content: "see file",
		Attachments: []*discordgo.MessageAttachment{
			{ContentType: "image/png", URL: "https://cdn.example/a.png"},
		},
	})

	assert.Equal(t, "u1", msg.AuthorID)
	assert.Equal(t, "see file", msg.Content)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, model.Attachment{ContentType: "image/png", URL: "https://cdn.example/a.png"}, msg.Attachments[0])
}

func TestFormatAuditEntries(t *testing.T) {
	at := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC).Unix()
	out := formatAuditEntries([]model.ActionLogEntry{
		{Action: "reject", ActorID: "mod1", Reason: sql.NullString{String: "spam", Valid: true}, CreatedAt: at},
		{Action: "modmail_transcript", ActorID: "system", CreatedAt: at},
	})

	assert.Equal(t, "`2024-03-09 12:00` **reject** by <@mod1>: spam\n`2024-03-09 12:00` **modmail_transcript** by system", out)
	assert.Equal(t, "No audit log entries.", formatAuditEntries(nil))
}

func TestFormatAuditEntriesFitsOneMessage(t *testing.T) {
	entries := make([]model.ActionLogEntry, 100)
	for i := range entries {
		entries[i] = model.ActionLogEntry{Action: "approve", ActorID: "mod1",
			Reason: sql.NullString{String: strings.Repeat("x", 60), Valid: true}}
	}
	assert.LessOrEqual(t, len(formatAuditEntries(entries)), 2000)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultAuditLimit, clampLimit(0))
	assert.Equal(t, 5, clampLimit(5))
	assert.Equal(t, maxAuditLimit, clampLimit(500))
}

func TestCloseMessage(t *testing.T) {
	res := modmail.CloseResult{Ticket: model.Ticket{ID: 7}, Transcript: &modmail.FlushResult{Lines: 3}}
	assert.Equal(t, "Ticket #7 closed. Transcript saved (3 lines).", closeMessage(res))

	res = modmail.CloseResult{Ticket: model.Ticket{ID: 7}, FlushError: assert.AnError}
	assert.Equal(t, "Ticket #7 closed. The transcript could not be saved yet and will be retried.", closeMessage(res))

	assert.Equal(t, "Ticket #7 is already closed.", closeMessage(modmail.CloseResult{Ticket: model.Ticket{ID: 7}, AlreadyClosed: true}))
}

func TestModmailFailure(t *testing.T) {
	assert.Equal(t, "This channel is not an open ticket.", modmailFailure(modmail.ErrNoOpenTicket))
	assert.Contains(t, modmailFailure(modmail.ErrOpenInProgress), "being opened")
}
