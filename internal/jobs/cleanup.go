package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper deletes expired rows and reports how many it removed.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob periodically removes expired join tokens.
type CleanupJob struct {
	tokens   Sweeper
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(tokens Sweeper, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		tokens:   tokens,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
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

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "join tokens", j.tokens.DeleteExpired)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
