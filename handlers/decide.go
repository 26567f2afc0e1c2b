package handlers

import (
	"context"

	"gatekeeper/bot"
	"gatekeeper/decision"
	"gatekeeper/review"
	"gatekeeper/utils"

	"github.com/bwmarrin/discordgo"
)

func handleDecide(ctx context.Context, b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req := decideRequest(i.GuildID, i.Member.User.ID, i.ApplicationCommandData().Options)
	resp, err := b.Review.Decide(ctx, req)
	if err != nil {
		utils.SendFollowUpError(s, i.Interaction, review.FailureMessage(err))
		return
	}
	utils.SendFollowUp(s, i.Interaction, resp.Message())
}

func decideRequest(guildID, moderatorID string, options []*discordgo.ApplicationCommandInteractionDataOption) review.Request {
	opts := optionMap(options)
	return review.Request{
		Request: decision.Request{
			GuildID:       guildID,
			ApplicationID: stringOption(opts, "application"),
			ModeratorID:   moderatorID,
			Kind:          decision.Kind(stringOption(opts, "decision")),
			Reason:        stringOption(opts, "reason"),
		},
		ModeratorNote: stringOption(opts, "note"),
	}
}
