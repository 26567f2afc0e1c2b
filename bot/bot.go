package bot

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"gatekeeper/audit"
	"gatekeeper/commands"
	"gatekeeper/decision"
	"gatekeeper/delivery"
	"gatekeeper/model"
	"gatekeeper/modmail"
	"gatekeeper/platform"
	"gatekeeper/review"
	"gatekeeper/utils"
	"gatekeeper/utils/logger"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
)

type Bot struct {
	Session            *discordgo.Session
	RegisteredCommands []*discordgo.ApplicationCommand
	CommandHandlers    map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate)
	config             atomic.Value // *model.Config
	DB                 *sqlx.DB

	Audit    *audit.Writer
	Review   *review.Service
	Modmail  *modmail.Manager
	Platform *platform.Discord
	Reporter *utils.WebhookReporter

	scheduler     *Scheduler
	metricsServer *http.Server
	log           *slog.Logger
}

func (b *Bot) GetConfig() *model.Config {
	return b.config.Load().(*model.Config)
}

func (b *Bot) GetDB() *sqlx.DB {
	return b.DB
}

func (b *Bot) GetSession() *discordgo.Session {
	return b.Session
}

// New builds the session and every service on top of db. Nothing talks to
// Discord until Run.
func New(cfg *model.Config, db *sqlx.DB) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	dg.StateEnabled = false

	discord := platform.New(dg, cfg, cfg.LogChannelID)
	reporter := utils.NewWebhookReporter(cfg.ErrorWebhookURL)
	auditWriter := audit.NewWriter(db)

	engine := decision.NewEngine(db, auditWriter)
	flow := delivery.NewFlow(discord, discord, discord, cfg, reporter)

	buffer := modmail.NewBuffer(db, discord, auditWriter)
	manager := modmail.NewManager(db, modmail.NewOpenTicketIndex(), discord, discord, buffer, auditWriter).
		WithOpenWait(cfg.OpenWaitTimeout)

	b := &Bot{
		Session:  dg,
		DB:       db,
		Audit:    auditWriter,
		Review:   review.NewService(db, engine, flow, auditWriter),
		Modmail:  manager,
		Platform: discord,
		Reporter: reporter,
		log:      logger.WithComponent("bot"),
	}
	b.config.Store(cfg)
	b.scheduler = NewScheduler(manager, cfg.TranscriptRetryInterval)
	return b, nil
}

// Hydrate loads the open tickets. It must complete before handlers are
// registered so no inbound message is routed against an empty index.
func (b *Bot) Hydrate(ctx context.Context) error {
	return b.Modmail.Hydrate(ctx)
}

func (b *Bot) Close() {
	b.log.Info("gracefully shutting down")
	b.scheduler.Stop()

	if b.metricsServer != nil {
		if err := b.metricsServer.Shutdown(context.Background()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Warn("failed to stop metrics server", "error", err)
		}
	}

	if err := b.Session.Close(); err != nil {
		b.log.Warn("failed to close session", "error", err)
	}
	b.Modmail.Index().Reset()
}

func (b *Bot) RefreshCommands(guildID string) {
	cmds := commands.GenerateCommands()
	b.log.Info("registering commands", "guild_id", guildID, "count", len(cmds))
	registeredCmds, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, guildID, cmds)
	if err != nil {
		b.log.Error("cannot update commands", "guild_id", guildID, "error", err)
		return
	}
	b.RegisteredCommands = append(b.RegisteredCommands, registeredCmds...)
}
