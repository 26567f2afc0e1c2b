package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gatekeeper/bot"
	"gatekeeper/model"
	"gatekeeper/modmail"
	"gatekeeper/utils"
	"gatekeeper/utils/logger"

	"github.com/bwmarrin/discordgo"
)

const relayTimeout = 15 * time.Second

// handleMessageCreate relays direct messages of users and staff replies in
// ticket threads. Everything else is ignored.
func handleMessageCreate(b *bot.Bot, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	msg := toMessage(m.Message)
	var err error
	switch {
	case m.GuildID == "":
		_, err = b.Modmail.RouteDirectMessage(ctx, m.Author.ID, msg)
	default:
		if _, ok := b.Modmail.Index().ByThread(m.ChannelID); !ok {
			return
		}
		_, err = b.Modmail.RouteStaffMessage(ctx, m.ChannelID, m.Author.ID, msg)
	}
	if err == nil || errors.Is(err, modmail.ErrNoOpenTicket) {
		return
	}

	var relayErr *modmail.RelayError
	if errors.As(err, &relayErr) {
		// Recorded; the transcript keeps the line even though nobody saw it.
		return
	}
	logger.Error("failed to route message", "channel_id", m.ChannelID, "author_id", m.Author.ID, "error", err)
}

func handleChannelGone(b *bot.Bot, channelID string) {
	if _, ok := b.Modmail.Index().ByThread(channelID); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	res, err := b.Modmail.HandleChannelDeleted(ctx, channelID)
	if err != nil {
		logger.Error("failed to clean up deleted ticket channel", "thread_ref", channelID, "error", err)
		return
	}
	if res.FlushError != nil {
		logger.Warn("transcript of deleted ticket channel left for retry", "ticket_id", res.TicketID, "error", res.FlushError)
		b.Reporter.Notify(ctx, utils.Warn, "Transcript of a deleted ticket channel could not be saved yet and will be retried.", map[string]string{
			"ticket_id":  strconv.FormatInt(res.TicketID, 10),
			"thread_ref": channelID,
		})
	}
}

func toMessage(m *discordgo.Message) model.Message {
	msg := model.Message{Content: m.Content}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{ContentType: a.ContentType, URL: a.URL})
	}
	return msg
}
