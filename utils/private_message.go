package utils

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is the Discord limit for the content of one message.
const MaxMessageLength = 2000

// SendPrivateMessage sends a direct message to a user. Content longer than
// one message is split.
func SendPrivateMessage(ctx context.Context, s *discordgo.Session, userID, message string) error {
	channel, err := s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create private channel with user %s: %w", userID, err)
	}
	return SendChunked(ctx, s, channel.ID, message)
}

// SendChunked posts message to a channel, split into as many messages as
// the length limit requires.
func SendChunked(ctx context.Context, s *discordgo.Session, channelID, message string) error {
	for _, chunk := range SplitMessage(message, MaxMessageLength) {
		if _, err := s.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
		}
	}
	return nil
}

// SplitMessage cuts content into pieces of at most limit runes, preferring
// line breaks as cut points.
func SplitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
