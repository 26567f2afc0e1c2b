package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatekeeper/audit"
	"gatekeeper/bot"
	"gatekeeper/model"
	"gatekeeper/modmail"
	"gatekeeper/utils"

	"github.com/bwmarrin/discordgo"
)

const (
	defaultAuditLimit = 10
	maxAuditLimit     = 50
)

func handleAudit(ctx context.Context, b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	user, ok := opts["user"]
	if !ok {
		utils.SendFollowUpError(s, i.Interaction, "A user is required.")
		return
	}
	limit := defaultAuditLimit
	if opt, ok := opts["limit"]; ok {
		limit = clampLimit(int(opt.IntValue()))
	}

	entries, err := b.Audit.List(ctx, audit.Filter{
		GuildID:   i.GuildID,
		SubjectID: user.UserValue(nil).ID,
		Limit:     limit,
	})
	if err != nil {
		utils.SendFollowUpError(s, i.Interaction, "The audit log could not be read.")
		return
	}
	utils.SendFollowUp(s, i.Interaction, formatAuditEntries(entries))
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultAuditLimit
	case n > maxAuditLimit:
		return maxAuditLimit
	}
	return n
}

// formatAuditEntries renders one line per entry, trimmed to a single message.
func formatAuditEntries(entries []model.ActionLogEntry) string {
	if len(entries) == 0 {
		return "No audit log entries."
	}
	var sb strings.Builder
	for _, e := range entries {
		actor := "<@" + e.ActorID + ">"
		if e.ActorID == modmail.SystemActor {
			actor = modmail.SystemActor
		}
		line := fmt.Sprintf("`%s` **%s** by %s",
			time.Unix(e.CreatedAt, 0).UTC().Format("2006-01-02 15:04"), e.Action, actor)
		if e.Reason.Valid && e.Reason.String != "" {
			line += ": " + e.Reason.String
		}
		if sb.Len()+len(line)+1 > utils.MaxMessageLength {
			break
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
