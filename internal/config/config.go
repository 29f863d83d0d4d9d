package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Quota counter backends.
const (
	QuotaBackendPostgres = "postgres"
	QuotaBackendRedis    = "redis"
)

// Config holds configuration for the service.
type Config struct {
	HTTPPort string
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Quota    QuotaConfig
	Webhook  WebhookConfig
	Audit    AuditConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
	ConfigCacheSize int
	ConfigCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// QuotaConfig selects and tunes the rate limit counter backend.
type QuotaConfig struct {
	Backend         string // postgres or redis
	CleanupInterval time.Duration
	BucketRetention time.Duration
}

// WebhookConfig tunes the delivery retry sweeper.
type WebhookConfig struct {
	SweepInterval time.Duration
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	SensitiveFieldsFile string
	ResolverTTL         time.Duration
	OutboxBufferSize    int
	OutboxMaxRetries    int
	OutboxRetryBackoff  time.Duration

	ArchiveEnabled       bool
	ArchiveBucket        string
	ArchiveRegion        string
	ArchivePrefix        string
	ArchiveBatchSize     int
	ArchiveFlushInterval time.Duration
	PodName              string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	backend := getEnvString("QUOTA_BACKEND", QuotaBackendPostgres)
	if backend != QuotaBackendPostgres && backend != QuotaBackendRedis {
		return nil, fmt.Errorf("unknown QUOTA_BACKEND %q", backend)
	}

	cfg := &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8080"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			APIKeyCacheSize: getEnvInt("CACHE_API_KEY_SIZE", 1000),
			APIKeyCacheTTL:  getEnvDuration("CACHE_API_KEY_TTL", 5*time.Minute),
			ConfigCacheSize: getEnvInt("CACHE_CONFIG_SIZE", 1000),
			ConfigCacheTTL:  getEnvDuration("CACHE_CONFIG_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Quota: QuotaConfig{
			Backend:         backend,
			CleanupInterval: getEnvDuration("QUOTA_CLEANUP_INTERVAL", time.Hour),
			BucketRetention: getEnvDuration("QUOTA_BUCKET_RETENTION", 24*time.Hour),
		},
		Webhook: WebhookConfig{
			SweepInterval: getEnvDuration("WEBHOOK_SWEEP_INTERVAL", 5*time.Second),
		},
		Audit: AuditConfig{
			SensitiveFieldsFile: getEnvString("SENSITIVE_FIELDS_FILE", "data/sensitive_fields.json"),
			ResolverTTL:         getEnvDuration("SENSITIVE_FIELDS_TTL", 5*time.Minute),
			OutboxBufferSize:    getEnvInt("AUDIT_OUTBOX_BUFFER_SIZE", 1000),
			OutboxMaxRetries:    getEnvInt("AUDIT_OUTBOX_MAX_RETRIES", 5),
			OutboxRetryBackoff:  getEnvDuration("AUDIT_OUTBOX_RETRY_BACKOFF", 1*time.Second),

			ArchiveEnabled:       getEnvBool("AUDIT_ARCHIVE_ENABLED", false),
			ArchiveBucket:        getEnvString("AUDIT_ARCHIVE_S3_BUCKET", ""),
			ArchiveRegion:        getEnvString("AUDIT_ARCHIVE_S3_REGION", "us-east-1"),
			ArchivePrefix:        getEnvString("AUDIT_ARCHIVE_S3_PREFIX", "audit/"),
			ArchiveBatchSize:     getEnvInt("AUDIT_ARCHIVE_BATCH_SIZE", 100),
			ArchiveFlushInterval: getEnvDuration("AUDIT_ARCHIVE_FLUSH_INTERVAL", 60*time.Second),
			PodName:              getEnvString("POD_NAME", "akm-gateway-0"),
		},
	}

	if cfg.Audit.ArchiveEnabled && cfg.Audit.ArchiveBucket == "" {
		return nil, fmt.Errorf("AUDIT_ARCHIVE_S3_BUCKET is required when archiving is enabled")
	}

	return cfg, nil
}
