package commands

import (
	"gatekeeper/decision"

	"github.com/bwmarrin/discordgo"
)

// Command names.
const (
	Decide  = "decide"
	Modmail = "modmail"
	Audit   = "audit"
)

var manageGuild int64 = discordgo.PermissionManageGuild

// GenerateCommands returns the staff commands registered in every configured guild.
func GenerateCommands() []*discordgo.ApplicationCommand {
	kinds := []decision.Kind{
		decision.KindApprove,
		decision.KindReject,
		decision.KindPermReject,
		decision.KindNeedInfo,
		decision.KindKick,
	}
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(kinds))
	for _, k := range kinds {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(k), Value: string(k)})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     Decide,
			Description:              "Record a decision on an application.",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "application",
					Description: "Application id.",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "decision",
					Description: "The decision to record.",
					Required:    true,
					Choices:     choices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "reason",
					Description: "Reason shown to the applicant and kept in the audit log.",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "note",
					Description: "Extra note sent to the applicant.",
					Required:    false,
				},
			},
		},
		{
			Name:                     Modmail,
			Description:              "Manage modmail tickets.",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "open",
					Description: "Open a ticket with a member.",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "The member to talk to.",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "close",
					Description: "Close the ticket of this thread.",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "reason",
							Description: "Why the ticket is closed.",
							Required:    false,
						},
					},
				},
			},
		},
		{
			Name:                     Audit,
			Description:              "Show recent audit log entries for a user.",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The user to look up.",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "limit",
					Description: "Number of entries (default 10).",
					Required:    false,
				},
			},
		},
	}
}
