package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/metrics"
	"gatekeeper/modmail"
)

// Run connects to Discord and blocks until ctx is cancelled or the process
// receives SIGINT/SIGTERM. Hydrate must have succeeded before.
func (b *Bot) Run(ctx context.Context) error {
	if !b.Modmail.Index().Hydrated() {
		return modmail.ErrNotHydrated
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	defer b.Close()

	b.RegisteredCommands = b.RegisteredCommands[:0]
	for guildID := range b.GetConfig().Guilds {
		b.RefreshCommands(guildID)
	}

	b.scheduler.Start()
	b.startMetrics()

	b.log.Info("bot is now running, press CTRL-C to exit", "guilds", len(b.GetConfig().Guilds))
	<-ctx.Done()
	return nil
}

func (b *Bot) startMetrics() {
	addr := b.GetConfig().MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	b.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		b.log.Info("serving metrics", "addr", addr)
		if err := b.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Error("metrics server stopped", "error", err)
		}
	}()
}
