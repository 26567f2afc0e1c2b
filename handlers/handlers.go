package handlers

import (
	"context"
	"strconv"
	"time"

	"gatekeeper/bot"
	"gatekeeper/commands"
	"gatekeeper/model"
	"gatekeeper/utils"
	"gatekeeper/utils/logger"

	"github.com/bwmarrin/discordgo"
)

// commandTimeout bounds the work done for one slash command.
const commandTimeout = 30 * time.Second

func Register(b *bot.Bot) {
	b.CommandHandlers = commandHandlers(b)
	addHandlers(b)
}

func commandHandlers(b *bot.Bot) map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate){
		commands.Decide: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			staffOnly(b, s, i, handleDecide)
		},
		commands.Modmail: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			staffOnly(b, s, i, handleModmail)
		},
		commands.Audit: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			staffOnly(b, s, i, handleAudit)
		},
	}
}

func addHandlers(b *bot.Bot) {
	log := logger.WithComponent("handlers")

	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		log.Info("logged in", "user", r.User.Username, "guilds", len(r.Guilds))
		b.Reporter.Notify(context.Background(), utils.Info, "Bot has started successfully.", map[string]string{
			"user":   r.User.Username,
			"guilds": strconv.Itoa(len(r.Guilds)),
		})
	})
	b.Session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		if h, ok := b.CommandHandlers[i.ApplicationCommandData().Name]; ok {
			h(s, i)
		}
	})
	b.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		handleMessageCreate(b, m)
	})
	b.Session.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelDelete) {
		handleChannelGone(b, c.ID)
	})
	b.Session.AddHandler(func(s *discordgo.Session, t *discordgo.ThreadDelete) {
		handleChannelGone(b, t.ID)
	})
}

// staffOnly defers the interaction and runs h if the member is staff of a
// configured guild.
func staffOnly(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate,
	h func(ctx context.Context, b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate)) {
	if i.Member == nil || i.Member.User == nil {
		utils.SendErrorResponse(s, i, "This command can only be used in a server.")
		return
	}
	guild, ok := b.GetConfig().Guild(i.GuildID)
	if !ok {
		utils.SendErrorResponse(s, i, "This server is not configured.")
		return
	}
	if !isStaff(guild, i.Member) {
		utils.SendErrorResponse(s, i, "You do not have permission to use this command.")
		return
	}

	if err := utils.DeferResponse(s, i, true); err != nil {
		logger.Warn("failed to defer interaction", "interaction_id", i.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	h(ctx, b, s, i)
}

func isStaff(guild model.GuildConfig, member *discordgo.Member) bool {
	return utils.CheckPermission(member.Roles, member.Permissions, guild.StaffRoleIDs) == utils.StaffPermission
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		return opt.StringValue()
	}
	return ""
}
