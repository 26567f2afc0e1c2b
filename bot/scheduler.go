package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/utils/logger"
)

const defaultRetryInterval = 5 * time.Minute

// TranscriptRetrier flushes transcripts whose flush on close failed.
type TranscriptRetrier interface {
	RetryPendingTranscripts(ctx context.Context) (int, error)
}

// Scheduler manages the background tasks of the bot.
type Scheduler struct {
	transcripts TranscriptRetrier
	interval    time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
	log         *slog.Logger
}

// NewScheduler creates a new scheduler.
func NewScheduler(transcripts TranscriptRetrier, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return &Scheduler{
		transcripts: transcripts,
		interval:    interval,
		done:        make(chan struct{}),
		log:         logger.WithComponent("scheduler"),
	}
}

// Start begins all scheduled tasks.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.retryTranscripts()
}

// Stop terminates all scheduled tasks gracefully. It is safe to call more
// than once and before Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stopping scheduler")
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Scheduler) retryTranscripts() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runRetry()
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) runRetry() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := s.transcripts.RetryPendingTranscripts(ctx)
	if err != nil {
		s.log.Warn("transcript retry interrupted", "flushed", n, "error", err)
		return
	}
	if n > 0 {
		s.log.Info("flushed pending transcripts", "count", n)
	}
}
