package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type ServerPurger interface {
	DeleteByServer(ctx context.Context, serverName string) (int64, error)
}

// CleanupJob drops expired ledger rows on a ticker. On start it also
// purges the waiting rows a previous run of this server left behind,
// since none of those sessions exist in memory any more.
type CleanupJob struct {
	ledger     ExpiredDeleter
	waiting    ServerPurger
	serverName string
	interval   time.Duration
	done       chan struct{}
}

func NewCleanupJob(
	ledger ExpiredDeleter,
	waiting ServerPurger,
	serverName string,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		ledger:     ledger,
		waiting:    waiting,
		serverName: serverName,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Start purges stale waiting rows before returning, then cleans up in the
// background.
func (j *CleanupJob) Start() {
	j.purgeWaiting()
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) purgeWaiting() {
	if j.waiting == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "stale waiting sessions", func(ctx context.Context) (int64, error) {
		return j.waiting.DeleteByServer(ctx, j.serverName)
	})
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if j.ledger != nil {
		j.runCleanup(ctx, "reputation ledger", j.ledger.DeleteExpired)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
