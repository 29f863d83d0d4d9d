package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"akm_gateway/internal/alert"
	"akm_gateway/internal/audit"
	"akm_gateway/internal/auth"
	"akm_gateway/internal/config"
	"akm_gateway/internal/metrics"
	"akm_gateway/internal/middleware"
	"akm_gateway/internal/quota"
	"akm_gateway/internal/storage"
	"akm_gateway/internal/utils"
	"akm_gateway/internal/webhook"
)

// Scopes required by the read APIs.
const (
	ScopeAuditRead    = "akm:audit:read"
	ScopeUsageRead    = "akm:usage:read"
	ScopeWebhooksRead = "akm:webhooks:read"
)

// Dependencies aggregates the services the HTTP layer wires together.
type Dependencies struct {
	DB         *storage.DB
	Redis      *storage.RedisClient
	Gate       *auth.Gate
	Quota      *quota.Manager
	Dispatcher *webhook.Dispatcher
	Sweeper    *webhook.RetrySweeper
	Janitor    *quota.Janitor
	Alerts     *alert.Engine
	Trail      *audit.Trail
	Outbox     *audit.Outbox
	Archiver   *audit.Archiver
}

// Close stops the background workers and closes the connections.
func (d *Dependencies) Close() error {
	if d.Sweeper != nil {
		d.Sweeper.Stop()
	}
	if d.Janitor != nil {
		d.Janitor.Stop()
	}
	if d.Outbox != nil {
		d.Outbox.Stop()
	}
	if d.Archiver != nil {
		d.Archiver.Stop()
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("router")

	// Initialize database
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		APIKeyCacheSize: cfg.Cache.APIKeyCacheSize,
		APIKeyCacheTTL:  cfg.Cache.APIKeyCacheTTL,
		ConfigCacheSize: cfg.Cache.ConfigCacheSize,
		ConfigCacheTTL:  cfg.Cache.ConfigCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	apiKeyRepo := storage.NewAPIKeyRepository(db)
	quotaRepo := storage.NewQuotaRepository(db)
	webhookRepo := storage.NewWebhookRepository(db)
	alertRepo := storage.NewAlertRepository(db)
	auditRepo := storage.NewAuditRepository(db)
	sensitiveRepo := storage.NewSensitiveFieldRepository(db)

	// The rate limit counter lives in Postgres unless Redis is selected.
	var redisClient *storage.RedisClient
	var counters quota.CounterStore = quotaRepo
	if cfg.Quota.Backend == config.QuotaBackendRedis {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		counters = quota.NewRedisCounterStore(redisClient.Client())
	}

	dispatcher := webhook.NewDispatcher(webhookRepo)
	alertEngine := alert.NewEngine(alertRepo, dispatcher)
	quotaManager := quota.NewManager(counters, quotaRepo, dispatcher, alertEngine)
	gate := auth.NewGate(apiKeyRepo)

	// A missing bundled rules file is tolerated; database rules still
	// apply.
	rulesFile := cfg.Audit.SensitiveFieldsFile
	if _, statErr := os.Stat(rulesFile); statErr != nil {
		logger.Warn("Sensitive fields file not found, using database rules only", "path", rulesFile)
		rulesFile = ""
	}
	resolver, err := audit.NewFieldResolver(sensitiveRepo, rulesFile, cfg.Audit.ResolverTTL)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize field resolver: %w", err)
	}

	outbox := audit.NewOutbox(auditRepo, &audit.OutboxConfig{
		BufferSize:   cfg.Audit.OutboxBufferSize,
		MaxRetries:   cfg.Audit.OutboxMaxRetries,
		RetryBackoff: cfg.Audit.OutboxRetryBackoff,
	})
	trail := audit.NewTrail(auditRepo, resolver, outbox)

	var archiver *audit.Archiver
	if cfg.Audit.ArchiveEnabled {
		archiver, err = audit.NewArchiver(context.Background(), &audit.ArchiverConfig{
			Bucket:        cfg.Audit.ArchiveBucket,
			Region:        cfg.Audit.ArchiveRegion,
			Prefix:        cfg.Audit.ArchivePrefix,
			PodName:       cfg.Audit.PodName,
			BatchSize:     cfg.Audit.ArchiveBatchSize,
			FlushInterval: cfg.Audit.ArchiveFlushInterval,
		})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize audit archiver: %w", err)
		}
		trail.SetArchiveSink(archiver)
	}

	sweeper := webhook.NewRetrySweeper(dispatcher, cfg.Webhook.SweepInterval)
	janitor := quota.NewJanitor(quotaRepo, cfg.Quota.CleanupInterval, cfg.Quota.BucketRetention)

	// Start background workers
	outbox.Start(context.Background())
	sweeper.Start(context.Background())
	janitor.Start(context.Background())
	if archiver != nil {
		archiver.Start(context.Background())
	}

	deps := &Dependencies{
		DB:         db,
		Redis:      redisClient,
		Gate:       gate,
		Quota:      quotaManager,
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
		Janitor:    janitor,
		Alerts:     alertEngine,
		Trail:      trail,
		Outbox:     outbox,
		Archiver:   archiver,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, auditRepo, quotaRepo, webhookRepo)

	return mux, deps, nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, auditRepo *storage.AuditRepository, quotaRepo *storage.QuotaRepository, webhookRepo *storage.WebhookRepository) {
	auditMW := middleware.AuditMiddleware(deps.Trail)
	quotaMW := middleware.QuotaMiddleware(deps.Quota)
	authed := func(scopes ...string) func(http.Handler) http.Handler {
		authMW := middleware.AuthMiddleware(deps.Gate, scopes...)
		return func(next http.Handler) http.Handler {
			return auditMW(authMW(quotaMW(next)))
		}
	}

	// Health check endpoint - public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded", "database": "down",
			})
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{
			"status": "ok", "database": "up",
		})
	})

	// Metrics endpoint - public
	mux.Handle("GET /metrics", metrics.Handler())

	// Governed validation probe
	mux.Handle("GET /v1/ping", authed()(http.HandlerFunc(handlePing)))

	auditHandler := NewAuditHandler(auditRepo, deps.Trail)
	mux.Handle("GET /v1/audit/entries", authed(ScopeAuditRead)(http.HandlerFunc(auditHandler.ListEntries)))
	mux.Handle("GET /v1/audit/entries/{id}", authed(ScopeAuditRead)(http.HandlerFunc(auditHandler.GetEntry)))
	mux.Handle("GET /v1/audit/entries/{id}/verify", authed(ScopeAuditRead)(http.HandlerFunc(auditHandler.VerifyEntry)))
	mux.Handle("GET /v1/audit/correlation/{id}", authed(ScopeAuditRead)(http.HandlerFunc(auditHandler.ByCorrelation)))
	mux.Handle("GET /v1/audit/resources/{type}/{id}", authed(ScopeAuditRead)(http.HandlerFunc(auditHandler.ResourceActivity)))
	mux.Handle("GET /v1/audit/operations/summary", authed(ScopeAuditRead)(http.HandlerFunc(auditHandler.OperationsSummary)))
	mux.Handle("POST /v1/audit/verify", authed(ScopeAuditRead)(http.HandlerFunc(auditHandler.VerifyRange)))

	usageHandler := NewUsageHandler(quotaRepo)
	mux.Handle("GET /v1/usage/stats", authed(ScopeUsageRead)(http.HandlerFunc(usageHandler.Stats)))

	webhookHandler := NewWebhookHandler(webhookRepo)
	mux.Handle("GET /v1/webhooks/{id}/deliveries", authed(ScopeWebhooksRead)(http.HandlerFunc(webhookHandler.ListDeliveries)))
}

// handlePing confirms the key passed authentication, scopes and quota.
func handlePing(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.GetAPIKeyRecord(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "API key missing from request context")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"api_key_id": key.ID,
		"project_id": key.ProjectID,
		"scopes":     []string(key.Scopes),
	})
}
