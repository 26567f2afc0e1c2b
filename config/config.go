package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gatekeeper/model"
	"gatekeeper/utils/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads the configuration from the environment (and .env) plus the guild config file.
func Load() (*model.Config, error) {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Info(".env file not found, relying on environment variables")
	}

	v := viper.New()
	v.SetDefault("DATABASE_PATH", "data/gatekeeper.db")
	v.SetDefault("GUILD_CONFIG_PATH", "data/guilds.json")
	v.SetDefault("TRANSCRIPT_RETRY_INTERVAL", 5*time.Minute)
	v.SetDefault("OPEN_WAIT_TIMEOUT", 3*time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.AutomaticEnv()

	cfg := &model.Config{
		BotToken:                v.GetString("BOT_TOKEN"),
		LogChannelID:            v.GetString("LOG_CHANNEL_ID"),
		ErrorWebhookURL:         v.GetString("ERROR_WEBHOOK_URL"),
		DatabasePath:            v.GetString("DATABASE_PATH"),
		MetricsAddr:             v.GetString("METRICS_ADDR"),
		GuildConfigPath:         v.GetString("GUILD_CONFIG_PATH"),
		TranscriptRetryInterval: v.GetDuration("TRANSCRIPT_RETRY_INTERVAL"),
		OpenWaitTimeout:         v.GetDuration("OPEN_WAIT_TIMEOUT"),
		Logger: model.LoggerConfig{
			Level:      v.GetString("LOG_LEVEL"),
			Format:     v.GetString("LOG_FORMAT"),
			OutputPath: v.GetString("LOG_OUTPUT"),
		},
		Guilds: make(map[string]model.GuildConfig),
	}

	if cfg.LogChannelID == "" {
		logger.Warn("LOG_CHANNEL_ID not set, transcripts fall back to per-guild channels only")
	}
	if cfg.ErrorWebhookURL == "" {
		logger.Warn("ERROR_WEBHOOK_URL not set, unexpected errors are only logged locally")
	}

	guilds, err := LoadGuilds(cfg.GuildConfigPath)
	if err != nil {
		return nil, err
	}
	for _, g := range guilds {
		cfg.Guilds[g.GuildID] = g
	}

	return cfg, nil
}

// Validate checks the settings needed to connect to the gateway.
func Validate(cfg *model.Config) error {
	if cfg.BotToken == "" {
		return errors.New("BOT_TOKEN environment variable not set")
	}
	return nil
}

// LoadGuilds reads the per-guild config file. A missing file yields no guilds.
func LoadGuilds(path string) ([]model.GuildConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logger.Warn("guild config file not found, skipping", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat guild config %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read guild config %s: %w", path, err)
	}

	var guilds []model.GuildConfig
	if err := v.UnmarshalKey("guilds", &guilds); err != nil {
		return nil, fmt.Errorf("failed to decode guild config %s: %w", path, err)
	}
	for _, g := range guilds {
		if g.GuildID == "" {
			return nil, fmt.Errorf("guild config %s has an entry without guild_id", path)
		}
	}
	return guilds, nil
}
