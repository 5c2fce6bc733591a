package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/metahub/integrationhub/internal/alert"
	"github.com/metahub/integrationhub/internal/api"
	"github.com/metahub/integrationhub/internal/cache"
	"github.com/metahub/integrationhub/internal/config"
	"github.com/metahub/integrationhub/internal/database"
	"github.com/metahub/integrationhub/internal/delivery"
	"github.com/metahub/integrationhub/internal/destination"
	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/eventstore"
	"github.com/metahub/integrationhub/internal/httpmw"
	"github.com/metahub/integrationhub/internal/logsink"
	"github.com/metahub/integrationhub/internal/mapping"
	"github.com/metahub/integrationhub/internal/route"
	"github.com/metahub/integrationhub/internal/telemetry"
	"github.com/metahub/integrationhub/internal/tenant"
	"github.com/metahub/integrationhub/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	otelProvider, err := telemetry.NewProvider(telemetry.DefaultConfig())
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	db, err := database.NewInstrumentedConnection(parseDatabaseURL(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("database connection: %v", err)
	}
	defer db.Close()

	redisService, err := cache.NewInstrumentedRedisService(parseRedisURL(cfg.RedisURL))
	if err != nil {
		log.Fatalf("redis connection: %v", err)
	}
	defer redisService.Close()
	claimLock := eventstore.NewClaimLock(redisService.GetClient())

	routes := route.NewPostgresRepository(db.DB)
	mappings := mapping.NewPostgresRepository(db.DB)
	events := eventstore.NewPostgresRepository(db.DB)
	dests := destination.NewPostgresRepository(db.DB)
	alertRules := alert.NewPostgresRepository(db.DB)
	logs := logsink.NewPostgresSink(db.DB, nil)

	deliveryMetrics, err := telemetry.NewDeliveryMetrics()
	if err != nil {
		log.Fatalf("telemetry metrics: %v", err)
	}

	destLookup := destination.RepositoryLookup{Repo: dests}
	destClient := destination.NewClient(&http.Client{}, "metahub-integrationhub/1.0")
	worker := delivery.NewWorker(events, destLookup, destClient, delivery.DefaultConfig(), logFn(logs))
	workerID, _ := os.Hostname()
	if workerID == "" {
		workerID = uuid.NewString()
	}
	worker.WithClaimLock(claimLock, workerID, 5*time.Minute)
	worker.WithMetrics(deliveryMetrics)

	smtpCfg := alert.SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     envOr("SMTP_PORT", "587"),
		From:     os.Getenv("SMTP_FROM"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
	}
	notifier := alert.NewNotifier(smtpCfg, logs)
	evaluator := alert.NewEvaluator(alertRules, events, logs, notifier, time.Minute)
	evaluator.WithMetrics(deliveryMetrics)

	graphClient := webhook.NewGraphClient(webhook.GraphClientConfig{}, unwiredTokenSource{})
	webhookHandler := webhook.NewHandler(cfg.MetaWebhookVerifyToken, routes, mappings, events, logs, graphClient, worker,
		func(c *gin.Context) string { return c.Param("tenant_id") })

	oauthSecret := []byte(cfg.MetaAppSecret)
	exchanger := api.NewGraphTokenExchanger(nil, "", cfg.MetaAppID, cfg.MetaAppSecret)
	oauthHandlers := api.NewOAuthHandlers(oauthSecret, cfg.MetaAppID, cfg.AppURL, cfg.AppURL+"/oauth/meta/callback", exchanger, noopCredentialStore{}, logs)

	deliveryHandlers := api.NewDeliveryHandlers(worker, dests)
	transformHandlers := api.NewTransformHandlers()
	alertHandlers := api.NewAlertHandlers(evaluator)

	checker := sessionMembershipChecker{}

	router := gin.New()
	router.Use(otelgin.Middleware("integration-hub"))
	router.Use(httpmw.Recovery())
	router.Use(httpmw.ErrorHandler())
	router.Use(httpmw.Logging(httpmw.DefaultLoggingConfig()))
	router.Use(httpmw.RateLimit(120, time.Second))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "integration-hub"})
	})

	router.GET("/webhook/meta/:tenant_id", webhookHandler.HandleChallenge)
	router.POST("/webhook/meta/:tenant_id", webhookHandler.HandlePost)

	router.POST("/delivery/process", deliveryHandlers.Process)

	authenticated := router.Group("/")
	authenticated.Use(httpmw.Auth(checker))
	{
		authenticated.POST("/:tenant_id/delivery/resend", httpmw.RequireTenant("tenant_id"), deliveryHandlers.Resend)
		authenticated.POST("/:tenant_id/delivery/test", httpmw.RequireTenant("tenant_id"), deliveryHandlers.Test)
		authenticated.POST("/transform/preview", transformHandlers.Preview)
		authenticated.POST("/:tenant_id/alerts/acknowledge", httpmw.RequireTenant("tenant_id"), alertHandlers.Acknowledge)
		authenticated.POST("/:tenant_id/alerts/resolve", httpmw.RequireTenant("tenant_id"), alertHandlers.Resolve)
		authenticated.POST("/oauth/meta/start", oauthHandlers.Start)
	}
	router.GET("/oauth/meta/callback", oauthHandlers.Callback)

	ctx, cancelWorker := context.WithCancel(context.Background())
	worker.Start(ctx)
	evaluator.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Printf("integration hub listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	cancelWorker()
	worker.Stop()
	evaluator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("server exited")
}

func logFn(logs logsink.Sink) func(ctx context.Context, level, category, action, message string, meta map[string]interface{}) {
	return func(ctx context.Context, level, category, action, message string, meta map[string]interface{}) {
		_ = logs.Write(ctx, logsink.Entry{
			Level:    logsink.Level(level),
			Category: logsink.Category(category),
			Action:   action,
			Message:  message,
			Metadata: meta,
		})
	}
}

// parseDatabaseURL splits a postgres:// DSN into the discrete fields the
// teacher's connection pool setup expects.
func parseDatabaseURL(dsn string) database.Config {
	u, err := url.Parse(dsn)
	if err != nil {
		log.Fatalf("invalid DB_URL: %v", err)
	}
	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}
	host, port := u.Hostname(), u.Port()
	if port == "" {
		port = "5432"
	}
	return database.Config{
		Host:     host,
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   trimLeadingSlash(u.Path),
		SSLMode:  sslMode,
	}
}

func trimLeadingSlash(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}

// parseRedisURL splits a redis:// URL into the fields RedisConfig expects.
func parseRedisURL(raw string) *cache.RedisConfig {
	u, err := url.Parse(raw)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	password, _ := u.User.Password()
	port, _ := strconv.Atoi(u.Port())
	if port == 0 {
		port = 6379
	}
	db := 0
	if dbStr := trimLeadingSlash(u.Path); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			db = n
		}
	}
	return &cache.RedisConfig{
		Host:     u.Hostname(),
		Port:     port,
		Password: password,
		DB:       db,
		PoolSize: 10,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// sessionMembershipChecker resolves a Bearer session token to a Caller.
// The actual session store and role lookup are outside this module's
// scope (spec §6: "Auth / key-management details are external"); this
// stub satisfies tenant.MembershipChecker so the middleware chain wires
// end to end, and is the integration point a real session service
// replaces.
type sessionMembershipChecker struct{}

func (sessionMembershipChecker) Resolve(ctx context.Context, sessionToken string) (tenant.Caller, error) {
	return tenant.Caller{}, apperrors.NewUnauthenticatedError("session resolution is not wired to an identity provider")
}

// unwiredTokenSource reports every lookup as unavailable; enrichment
// failure is non-fatal for leadgen webhooks, and a real TokenSource
// resolving per-tenant Meta credentials is the integration point a
// completed OAuth flow (api.CredentialStore) feeds.
type unwiredTokenSource struct{}

func (unwiredTokenSource) AccessTokenFor(ctx context.Context, tenantID, formID string) (string, error) {
	return "", apperrors.NewUpstreamError("meta_graph_token", nil)
}

type noopCredentialStore struct{}

func (noopCredentialStore) SaveMetaToken(ctx context.Context, workspaceID, accessToken string, expiresAt time.Time) error {
	return nil
}
