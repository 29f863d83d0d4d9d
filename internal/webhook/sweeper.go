package webhook

import (
	"context"
	"time"

	"akm_gateway/internal/utils"
)

// RetrySweeper periodically re-attempts due webhook deliveries.
type RetrySweeper struct {
	dispatcher  *Dispatcher
	interval    time.Duration
	stopChan    chan struct{}
	stoppedChan chan struct{}
	logger      *utils.Logger
}

// NewRetrySweeper creates a new retry sweeper
func NewRetrySweeper(dispatcher *Dispatcher, interval time.Duration) *RetrySweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RetrySweeper{
		dispatcher:  dispatcher,
		interval:    interval,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
		logger:      utils.NewLogger("webhook-sweeper"),
	}
}

// Start starts the sweeper goroutine
func (s *RetrySweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop gracefully stops the sweeper
func (s *RetrySweeper) Stop() error {
	close(s.stopChan)
	<-s.stoppedChan
	return nil
}

func (s *RetrySweeper) run(ctx context.Context) {
	defer close(s.stoppedChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			s.logger.Info("Retry sweeper stopping")
			return
		case <-ctx.Done():
			s.logger.Info("Retry sweeper context cancelled")
			return
		case <-ticker.C:
			processed, err := s.dispatcher.ProcessRetries(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Error("Retry sweep failed", "error", err)
				continue
			}
			if processed > 0 {
				s.logger.Debug("Retry sweep complete", "processed", processed)
			}
		}
	}
}
