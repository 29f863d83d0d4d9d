package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"akm_gateway/internal/models"
	"akm_gateway/internal/utils"
)

// ErrOutboxFull is returned when the outbox buffer has no room left.
var ErrOutboxFull = errors.New("audit outbox is full")

// OutboxConfig tunes the retry worker.
type OutboxConfig struct {
	BufferSize   int
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultOutboxConfig returns the default outbox configuration.
func DefaultOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		BufferSize:   1000,
		MaxRetries:   5,
		RetryBackoff: 1 * time.Second,
	}
}

// DeadEntry is an entry the outbox gave up on.
type DeadEntry struct {
	Entry    *models.AuditEntry
	Err      error
	FailedAt time.Time
}

// Outbox retries audit entries whose direct insert failed. Entries that
// exhaust their retries land in an in-memory dead letter list for
// inspection.
type Outbox struct {
	store  EntryStore
	config *OutboxConfig

	entries     chan *models.AuditEntry
	stopChan    chan struct{}
	stoppedChan chan struct{}

	mu   sync.Mutex
	dead []DeadEntry

	logger *utils.Logger
}

// NewOutbox creates a new outbox worker.
func NewOutbox(store EntryStore, config *OutboxConfig) *Outbox {
	if config == nil {
		config = DefaultOutboxConfig()
	}

	return &Outbox{
		store:       store,
		config:      config,
		entries:     make(chan *models.AuditEntry, config.BufferSize),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
		logger:      utils.NewLogger("audit-outbox"),
	}
}

// Start starts the worker goroutine
func (o *Outbox) Start(ctx context.Context) {
	go o.run(ctx)
}

// Stop gracefully stops the worker
func (o *Outbox) Stop() error {
	close(o.stopChan)
	<-o.stoppedChan
	return nil
}

// Enqueue hands an entry to the worker without blocking.
func (o *Outbox) Enqueue(entry *models.AuditEntry) error {
	select {
	case o.entries <- entry:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Pending returns the number of buffered entries.
func (o *Outbox) Pending() int {
	return len(o.entries)
}

// DeadEntries returns a copy of the dead letter list.
func (o *Outbox) DeadEntries() []DeadEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DeadEntry(nil), o.dead...)
}

func (o *Outbox) run(ctx context.Context) {
	defer close(o.stoppedChan)

	for {
		select {
		case <-o.stopChan:
			o.drain(ctx)
			o.logger.Info("Audit outbox stopping", "pending", len(o.entries))
			return
		case <-ctx.Done():
			o.logger.Info("Audit outbox context cancelled")
			return
		case entry := <-o.entries:
			o.process(ctx, entry)
		}
	}
}

// drain makes one last attempt at the buffered entries on shutdown.
func (o *Outbox) drain(ctx context.Context) {
	for {
		select {
		case entry := <-o.entries:
			o.process(ctx, entry)
		default:
			return
		}
	}
}

// process inserts one entry with exponential backoff retries.
func (o *Outbox) process(ctx context.Context, entry *models.AuditEntry) {
	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		if err := o.store.Create(ctx, entry); err != nil {
			lastErr = err
			o.logger.Error("Failed to insert audit entry", "attempt", attempt, "error", err)
			continue
		}

		o.logger.Debug("Spooled audit entry inserted", "id", entry.ID)
		return
	}

	o.mu.Lock()
	o.dead = append(o.dead, DeadEntry{Entry: entry, Err: lastErr, FailedAt: time.Now().UTC()})
	o.mu.Unlock()
	o.logger.Warn("Audit entry moved to dead letter list", "id", entry.ID, "error", lastErr)
}
