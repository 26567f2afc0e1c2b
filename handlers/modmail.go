package handlers

import (
	"context"
	"errors"
	"fmt"

	"gatekeeper/bot"
	"gatekeeper/modmail"
	"gatekeeper/utils"
	"gatekeeper/utils/database"
	"gatekeeper/utils/logger"

	"github.com/bwmarrin/discordgo"
)

func handleModmail(ctx context.Context, b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		utils.SendFollowUpError(s, i.Interaction, "Unknown subcommand.")
		return
	}
	sub := options[0]
	opts := optionMap(sub.Options)
	staffID := i.Member.User.ID

	switch sub.Name {
	case "open":
		user, ok := opts["user"]
		if !ok {
			utils.SendFollowUpError(s, i.Interaction, "A user is required.")
			return
		}
		res, err := b.Modmail.Open(ctx, modmail.OpenRequest{
			GuildID:     i.GuildID,
			UserID:      user.UserValue(nil).ID,
			InitiatorID: staffID,
		})
		if err != nil {
			utils.SendFollowUpError(s, i.Interaction, modmailFailure(err))
			return
		}
		utils.SendFollowUp(s, i.Interaction, openMessage(res))
	case "close":
		res, err := b.Modmail.CloseThread(ctx, i.ChannelID, staffID, stringOption(opts, "reason"))
		if err != nil {
			utils.SendFollowUpError(s, i.Interaction, modmailFailure(err))
			return
		}
		utils.SendFollowUp(s, i.Interaction, closeMessage(res))
	default:
		utils.SendFollowUpError(s, i.Interaction, "Unknown subcommand.")
	}
}

func openMessage(res modmail.OpenResult) string {
	if res.AlreadyOpen {
		return fmt.Sprintf("This user already has an open ticket: <#%s>", res.ThreadRef)
	}
	return fmt.Sprintf("Ticket #%d opened: <#%s>", res.TicketID, res.ThreadRef)
}

func closeMessage(res modmail.CloseResult) string {
	if res.AlreadyClosed {
		return fmt.Sprintf("Ticket #%d is already closed.", res.Ticket.ID)
	}
	msg := fmt.Sprintf("Ticket #%d closed.", res.Ticket.ID)
	switch {
	case res.FlushError != nil:
		msg += " The transcript could not be saved yet and will be retried."
	case res.Transcript != nil:
		msg += fmt.Sprintf(" Transcript saved (%d lines).", res.Transcript.Lines)
	}
	return msg
}

func modmailFailure(err error) string {
	var storageErr *database.StorageError
	switch {
	case errors.Is(err, modmail.ErrNoOpenTicket):
		return "This channel is not an open ticket."
	case errors.Is(err, modmail.ErrOpenInProgress):
		return "A ticket for this user is being opened right now. Try again in a moment."
	case errors.Is(err, modmail.ErrNotHydrated):
		return "Modmail is still starting up. Try again in a moment."
	case errors.As(err, &storageErr):
		return fmt.Sprintf("The ticket could not be updated. Reference: %s", storageErr.CorrelationID)
	}
	logger.Warn("modmail command failed", "error", err)
	return "Something went wrong while handling the ticket."
}
