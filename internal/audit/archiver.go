package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"akm_gateway/internal/models"
	"akm_gateway/internal/utils"
)

// ArchiverConfig configures the cold storage archiver.
type ArchiverConfig struct {
	Bucket        string
	Region        string
	Prefix        string
	PodName       string
	BatchSize     int
	FlushInterval time.Duration
}

// objectPutter is the slice of the S3 client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver batches sealed audit entries and writes them to S3 as JSON
// Lines objects. Archival is a copy for cold storage; the database
// remains the source of truth.
type Archiver struct {
	client objectPutter
	config *ArchiverConfig

	mu    sync.Mutex
	batch []*models.AuditEntry

	stopChan    chan struct{}
	stoppedChan chan struct{}
	logger      *utils.Logger
}

// NewArchiver creates an archiver backed by the default AWS credential
// chain.
func NewArchiver(ctx context.Context, cfg *ArchiverConfig) (*Archiver, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newArchiver(s3.NewFromConfig(awsCfg), cfg), nil
}

func newArchiver(client objectPutter, cfg *ArchiverConfig) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 60 * time.Second
	}

	return &Archiver{
		client:      client,
		config:      cfg,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
		logger:      utils.NewLogger("audit-archiver"),
	}
}

// Start starts the flush goroutine
func (a *Archiver) Start(ctx context.Context) {
	go a.run(ctx)
}

// Stop flushes the pending batch and stops the archiver
func (a *Archiver) Stop() error {
	close(a.stopChan)
	<-a.stoppedChan
	return nil
}

// Add queues a sealed entry for the next batch. A full batch flushes
// immediately.
func (a *Archiver) Add(ctx context.Context, entry *models.AuditEntry) {
	a.mu.Lock()
	a.batch = append(a.batch, entry)
	full := len(a.batch) >= a.config.BatchSize
	a.mu.Unlock()

	if full {
		if _, err := a.Flush(ctx); err != nil {
			a.logger.Error("Failed to flush audit batch", "error", err)
		}
	}
}

// Flush writes the pending batch to S3 and returns the object key.
// An empty batch is a no-op.
func (a *Archiver) Flush(ctx context.Context) (string, error) {
	a.mu.Lock()
	batch := a.batch
	a.batch = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return "", nil
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		a.config.Prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		a.config.PodName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, entry := range batch {
		if err := encoder.Encode(entry); err != nil {
			a.logger.Error("Failed to encode audit entry", "id", entry.ID, "error", err)
			continue
		}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		// Put the batch back so the next flush retries it.
		a.mu.Lock()
		a.batch = append(batch, a.batch...)
		a.mu.Unlock()
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("Archived audit batch", "key", key, "count", len(batch), "bytes", buf.Len())
	return key, nil
}

func (a *Archiver) run(ctx context.Context) {
	defer close(a.stoppedChan)

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			if _, err := a.Flush(context.WithoutCancel(ctx)); err != nil {
				a.logger.Error("Failed to flush audit batch on shutdown", "error", err)
			}
			a.logger.Info("Audit archiver stopping")
			return
		case <-ctx.Done():
			a.logger.Info("Audit archiver context cancelled")
			return
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil {
				a.logger.Error("Failed to flush audit batch", "error", err)
			}
		}
	}
}
