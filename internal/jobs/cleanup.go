package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpiredResetTokenCleaner is satisfied by repository.AccountRepository.
type ExpiredResetTokenCleaner interface {
	ClearExpiredResetTokens(ctx context.Context) (int64, error)
}

// CleanupJob periodically drops reset tokens that can no longer be redeemed.
type CleanupJob struct {
	accounts ExpiredResetTokenCleaner
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

func NewCleanupJob(accounts ExpiredResetTokenCleaner, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		accounts: accounts,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop blocks until an in-flight cleanup has returned.
func (j *CleanupJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer close(j.stopped)

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

	j.runCleanup(ctx, "expired reset tokens", j.accounts.ClearExpiredResetTokens)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
