package model

import "time"

// GuildConfig 定义了每个服务器的配置
type GuildConfig struct {
	Name                string   `json:"name" mapstructure:"name"`
	GuildID             string   `json:"guild_id" mapstructure:"guild_id"`
	MemberRoleID        string   `json:"member_role_id" mapstructure:"member_role_id"`
	ModmailChannelID    string   `json:"modmail_channel_id" mapstructure:"modmail_channel_id"`
	TranscriptChannelID string   `json:"transcript_channel_id" mapstructure:"transcript_channel_id"`
	StaffRoleIDs        []string `json:"staff_role_ids" mapstructure:"staff_role_ids"`
}

// LoggerConfig controls the process logger.
type LoggerConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Config 存储应用程序的配置
type Config struct {
	BotToken                string
	LogChannelID            string
	ErrorWebhookURL         string
	DatabasePath            string
	MetricsAddr             string
	GuildConfigPath         string
	TranscriptRetryInterval time.Duration
	OpenWaitTimeout         time.Duration
	Logger                  LoggerConfig
	Guilds                  map[string]GuildConfig
}

// Guild returns the configuration of a guild, if any.
func (c *Config) Guild(guildID string) (GuildConfig, bool) {
	g, ok := c.Guilds[guildID]
	return g, ok
}
