package model

import "context"

// Member is the narrow view of a guild member the core needs.
type Member interface {
	UserID() string
	HasRole(roleID string) bool
	GrantRole(ctx context.Context, roleID string) error
	SendDirectMessage(ctx context.Context, content string) error
	Kick(ctx context.Context, reason string) error
}

// MemberDirectory looks up guild members.
type MemberDirectory interface {
	FetchMember(ctx context.Context, guildID, userID string) (Member, error)
}

// Channel is a handle to an external communication channel (a private thread).
type Channel interface {
	Ref() string
	Send(ctx context.Context, content string) error
}

// ChannelFactory creates ticket channels and resolves handles for existing ones.
// The first participant is the user the ticket belongs to; the rest are staff.
type ChannelFactory interface {
	CreateChannel(ctx context.Context, guildID string, participants []string) (Channel, error)
	Channel(ref string) Channel
	DeleteChannel(ctx context.Context, ref string) error
}

// DirectMessenger sends a direct message to a user without a member lookup.
type DirectMessenger interface {
	SendDirectMessage(ctx context.Context, userID, content string) error
}

// GuildNamer resolves display names of guilds.
type GuildNamer interface {
	GuildName(ctx context.Context, guildID string) (string, error)
}

// LogSink receives flushed transcripts.
type LogSink interface {
	WriteTranscript(ctx context.Context, ticket Ticket, document string) error
}

// ErrorReporter is the centralized sink for unexpected failures.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]string)
}
