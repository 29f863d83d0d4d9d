package quota

import (
	"context"
	"time"

	"akm_gateway/internal/utils"
)

// BucketCleaner deletes rate limit buckets whose window ended before
// the cutoff.
type BucketCleaner interface {
	CleanupOldBuckets(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically deletes expired rate limit buckets. Redis
// counters expire on their own; the Postgres backend needs this sweep.
type Janitor struct {
	cleaner   BucketCleaner
	interval  time.Duration
	retention time.Duration
	logger    *utils.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewJanitor creates a janitor that runs every interval and keeps
// buckets for retention past their window start.
func NewJanitor(cleaner BucketCleaner, interval, retention time.Duration) *Janitor {
	return &Janitor{
		cleaner:     cleaner,
		interval:    interval,
		retention:   retention,
		logger:      utils.NewLogger("quota-janitor"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start launches the cleanup loop.
func (j *Janitor) Start(ctx context.Context) {
	go j.run(ctx)
}

// Stop stops the loop and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stopChan)
	<-j.stoppedChan
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.stoppedChan)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)
	removed, err := j.cleaner.CleanupOldBuckets(ctx, cutoff)
	if err != nil {
		j.logger.Error("Failed to clean up rate limit buckets", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("Cleaned up rate limit buckets", "removed", removed)
	}
}
