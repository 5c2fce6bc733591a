package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/metahub/integrationhub/internal/telemetry"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// RedisClientInterface defines the Redis client interface for testing
type RedisClientInterface interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
	Close() error
}

// RedisServiceInterface defines the interface for Redis service operations
type RedisServiceInterface interface {
	SetCache(key string, data interface{}, ttlSeconds int) error
	GetCache(key string, dest interface{}) error
	DeleteCache(key string) error
	Set(key string, value interface{}, ttl time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	Exists(key string) (bool, error)
	Expire(key string, ttl time.Duration) error
	TTL(key string) (time.Duration, error)
	DeletePattern(pattern string) (int64, error)
	SetFeatureFlag(key string, value bool, ttl time.Duration) error
	GetStats() map[string]interface{}
	InvalidateAll() error
	HealthCheck() bool
	Close() error
}

// RedisService provides Redis operations with caching strategies
type RedisService struct {
	client RedisClientInterface
	config *RedisConfig
	ctx    context.Context
}

// CacheEntry represents a cached item with metadata
type CacheEntry struct {
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	TTL       int         `json:"ttl"`
	Version   string      `json:"version"`
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Deletes     int64 `json:"deletes"`
	Connections int   `json:"connections"`
}

// HitRate calculates the cache hit rate
func (cs *CacheStats) HitRate() float64 {
	total := cs.Hits + cs.Misses
	if total == 0 {
		return 0.0
	}
	return float64(cs.Hits) / float64(total)
}

var (
	// Global Redis service instance
	redisService *RedisService

	// Default TTL values
	DefaultTTL      = 3600 // 1 hour
	RouteCacheTTL   = 60   // route resolution is re-checked often; keep this short
	MappingCacheTTL = 300  // mappings change far less often than routes
	FeatureFlagTTL  = 300  // 5 minutes
)

// NewRedisService creates a new Redis service instance
func NewRedisService(config *RedisConfig) (*RedisService, error) {
	ctx := telemetry.WithCorrelationID(context.Background(), telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_connection",
		"service":   "cache",
	})

	if config == nil {
		config = getConfigFromEnv()
	}

	logger = logger.WithFields(map[string]interface{}{
		"host":      config.Host,
		"port":      config.Port,
		"db":        config.DB,
		"pool_size": config.PoolSize,
	})

	logger.Info("Establishing Redis connection")

	rdb := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: 3,
	})

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	service := &RedisService{
		client: rdb,
		config: config,
		ctx:    ctx,
	}

	logger.Info("Redis connected successfully")
	return service, nil
}

// NewInstrumentedRedisService creates a new Redis service instance with OpenTelemetry instrumentation
func NewInstrumentedRedisService(config *RedisConfig) (*RedisService, error) {
	ctx := telemetry.WithCorrelationID(context.Background(), telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":       "instrumented_redis_connection",
		"service":         "cache",
		"instrumentation": "opentelemetry",
	})

	if config == nil {
		config = getConfigFromEnv()
	}

	logger = logger.WithFields(map[string]interface{}{
		"host":      config.Host,
		"port":      config.Port,
		"db":        config.DB,
		"pool_size": config.PoolSize,
	})

	logger.Info("Establishing instrumented Redis connection")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	// Add OpenTelemetry instrumentation
	client.AddHook(redisotel.NewTracingHook())
	logger.Debug("OpenTelemetry tracing hook added to Redis client")

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("Failed to connect to instrumented Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Instrumented Redis connected successfully")
	return &RedisService{
		client: client,
		config: config,
		ctx:    ctx,
	}, nil
}

// InitializeGlobalRedis initializes the global Redis service
func InitializeGlobalRedis() error {
	service, err := NewRedisService(nil)
	if err != nil {
		return err
	}
	redisService = service
	return nil
}

// GetRedisService returns the global Redis service instance
func GetRedisService() *RedisService {
	if redisService == nil {
		logger := telemetry.GetContextualLogger(context.Background())
		logger.WithFields(map[string]interface{}{
			"operation": "get_redis_service",
			"service":   "cache",
			"error":     "service_not_initialized",
		}).Fatal("Redis service not initialized. Call InitializeGlobalRedis() first.")
	}
	return redisService
}

// getConfigFromEnv loads Redis configuration from environment variables
func getConfigFromEnv() *RedisConfig {
	port, _ := strconv.Atoi(getEnvOrDefault("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	poolSize, _ := strconv.Atoi(getEnvOrDefault("REDIS_POOL_SIZE", "10"))

	return &RedisConfig{
		Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		PoolSize: poolSize,
	}
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Basic Redis Operations

// Set stores a value with TTL
func (r *RedisService) Set(key string, value interface{}, ttl time.Duration) error {
	ctx := telemetry.WithCorrelationID(r.ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":   "redis_set",
		"key":         key,
		"ttl_seconds": ttl.Seconds(),
		"service":     "cache",
	})

	logger.Debug("Setting cache value")

	data, err := json.Marshal(value)
	if err != nil {
		logger.WithError(err).Error("Failed to marshal value for cache")
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	expiration := ttl
	if ttl == 0 {
		expiration = time.Duration(DefaultTTL) * time.Second
		logger = logger.WithField("ttl_seconds", DefaultTTL)
	}

	err = r.client.Set(r.ctx, key, data, expiration).Err()
	if err != nil {
		logger.WithError(err).Error("Failed to set cache value")
	} else {
		logger.Debug("Cache value set successfully")
	}

	return err
}

// SetWithTTLSeconds stores a value with TTL in seconds (legacy method)
func (r *RedisService) SetWithTTLSeconds(key string, value interface{}, ttlSeconds int) error {
	ttl := time.Duration(DefaultTTL) * time.Second
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return r.Set(key, value, ttl)
}

// Get retrieves a string value stored by Set: a JSON-encoded string is
// returned decoded, any other stored value is returned as its raw text.
func (r *RedisService) Get(key string) (string, error) {
	ctx := telemetry.WithCorrelationID(r.ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_get",
		"key":       key,
		"service":   "cache",
	})

	logger.Debug("Getting cache value")

	val, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			logger.Debug("Cache miss - key not found")
			return "", fmt.Errorf("key not found: %s", key)
		}
		logger.WithError(err).Error("Failed to get cache value")
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}

	logger.Debug("Cache hit - value retrieved successfully")
	var decoded string
	if err := json.Unmarshal([]byte(val), &decoded); err == nil {
		return decoded, nil
	}
	return val, nil
}

// GetWithUnmarshal retrieves a value and unmarshals it
func (r *RedisService) GetWithUnmarshal(key string, dest interface{}) error {
	ctx := telemetry.WithCorrelationID(r.ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_get_unmarshal",
		"key":       key,
		"service":   "cache",
	})

	logger.Debug("Getting and unmarshaling cache value")

	val, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			logger.Debug("Cache miss - key not found")
			return fmt.Errorf("key not found: %s", key)
		}
		logger.WithError(err).Error("Failed to get cache value")
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}

	err = json.Unmarshal([]byte(val), dest)
	if err != nil {
		logger.WithError(err).Error("Failed to unmarshal cache value")
	} else {
		logger.Debug("Cache value retrieved and unmarshaled successfully")
	}

	return err
}

// GetString retrieves a string value
func (r *RedisService) GetString(key string) (string, error) {
	return r.client.Get(r.ctx, key).Result()
}

// Delete removes a key
func (r *RedisService) Delete(key string) error {
	ctx := telemetry.WithCorrelationID(r.ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_delete",
		"key":       key,
		"service":   "cache",
	})

	logger.Debug("Deleting cache key")

	err := r.client.Del(r.ctx, key).Err()
	if err != nil {
		logger.WithError(err).Error("Failed to delete cache key")
	} else {
		logger.Debug("Cache key deleted successfully")
	}

	return err
}

// Exists checks if a key exists
func (r *RedisService) Exists(key string) (bool, error) {
	result, err := r.client.Exists(r.ctx, key).Result()
	return result > 0, err
}

// Expire sets TTL for a key
func (r *RedisService) Expire(key string, ttl time.Duration) error {
	return r.client.Expire(r.ctx, key, ttl).Err()
}

// TTL gets remaining time to live
func (r *RedisService) TTL(key string) (time.Duration, error) {
	return r.client.TTL(r.ctx, key).Result()
}

// Cache-specific Operations

// SetCache stores data with cache metadata
func (r *RedisService) SetCache(key string, data interface{}, ttl int) error {
	entry := CacheEntry{
		Data:      data,
		Timestamp: time.Now(),
		TTL:       ttl,
		Version:   "1.0",
	}
	return r.Set(fmt.Sprintf("cache:%s", key), entry, time.Duration(ttl)*time.Second)
}

// GetCache retrieves cached data
func (r *RedisService) GetCache(key string, dest interface{}) error {
	var entry CacheEntry
	if err := r.GetWithUnmarshal(fmt.Sprintf("cache:%s", key), &entry); err != nil {
		return err
	}

	// Check if cache entry is still valid
	if time.Since(entry.Timestamp) > time.Duration(entry.TTL)*time.Second {
		return fmt.Errorf("cache entry expired")
	}

	// Unmarshal the actual data
	dataBytes, err := json.Marshal(entry.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(dataBytes, dest)
}

// DeleteCache removes cached data
func (r *RedisService) DeleteCache(key string) error {
	return r.Delete(fmt.Sprintf("cache:%s", key))
}

// Route resolution caching
//
// Route resolution runs on every webhook delivery, so a short-TTL cache
// keyed by (tenant, source_type, source_id) avoids a database round trip
// on the hot path while staying cheap to invalidate when a route changes.

// SetRouteCache stores a tenant's resolved route set for a source.
func (r *RedisService) SetRouteCache(tenantID, sourceType, sourceKey string, routes interface{}) error {
	ctx := telemetry.WithCorrelationID(r.ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":   "redis_set_route_cache",
		"tenant_id":   tenantID,
		"source_type": sourceType,
		"service":     "cache",
	})

	err := r.SetCache(routeCacheKey(tenantID, sourceType, sourceKey), routes, RouteCacheTTL)
	if err != nil {
		logger.WithError(err).Error("Failed to cache resolved routes")
	}
	return err
}

// GetRouteCache retrieves a tenant's cached resolved route set.
func (r *RedisService) GetRouteCache(tenantID, sourceType, sourceKey string, dest interface{}) error {
	return r.GetCache(routeCacheKey(tenantID, sourceType, sourceKey), dest)
}

// InvalidateRouteCache drops every cached resolution for a tenant, used
// whenever a route is created, updated, or deactivated.
func (r *RedisService) InvalidateRouteCache(tenantID string) error {
	ctx := telemetry.WithCorrelationID(r.ctx, telemetry.NewCorrelationID())
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation": "redis_invalidate_route_cache",
		"tenant_id": tenantID,
		"service":   "cache",
	})

	deleted, err := r.DeletePattern(fmt.Sprintf("cache:route:%s:*", tenantID))
	if err != nil {
		logger.WithError(err).Error("Failed to invalidate route cache")
	} else {
		logger.WithField("deleted_keys", deleted).Debug("Route cache invalidated")
	}
	return err
}

func routeCacheKey(tenantID, sourceType, sourceKey string) string {
	return fmt.Sprintf("route:%s:%s:%s", tenantID, sourceType, sourceKey)
}

// Mapping lookup caching
//
// Mappings change far less often than routes, so these entries get a
// longer TTL.

// SetMappingCache stores a resolved StoredMapping body by ID.
func (r *RedisService) SetMappingCache(tenantID, mappingID string, mapping interface{}) error {
	return r.SetCache(mappingCacheKey(tenantID, mappingID), mapping, MappingCacheTTL)
}

// GetMappingCache retrieves a cached mapping body.
func (r *RedisService) GetMappingCache(tenantID, mappingID string, dest interface{}) error {
	return r.GetCache(mappingCacheKey(tenantID, mappingID), dest)
}

// InvalidateMappingCache drops the cached entry for one mapping.
func (r *RedisService) InvalidateMappingCache(tenantID, mappingID string) error {
	return r.DeleteCache(mappingCacheKey(tenantID, mappingID))
}

func mappingCacheKey(tenantID, mappingID string) string {
	return fmt.Sprintf("mapping:%s:%s", tenantID, mappingID)
}

// Feature Flag Caching

// SetFeatureFlag stores feature flag value
func (r *RedisService) SetFeatureFlag(key string, value bool, ttl time.Duration) error {
	cacheKey := fmt.Sprintf("feature:%s", key)
	return r.Set(cacheKey, value, ttl)
}

// GetFeatureFlag retrieves feature flag value
func (r *RedisService) GetFeatureFlag(flagName string, dest interface{}) error {
	cacheKey := fmt.Sprintf("feature:%s", flagName)
	return r.GetWithUnmarshal(cacheKey, dest)
}

// Cache Invalidation Patterns

// DeletePattern removes keys matching a pattern
func (r *RedisService) DeletePattern(pattern string) (int64, error) {
	keys, err := r.client.Keys(r.ctx, pattern).Result()
	if err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(r.ctx, keys...).Result()
	return deleted, err
}

// InvalidateAll removes all cache entries
func (r *RedisService) InvalidateAll() error {
	_, err := r.DeletePattern("cache:*")
	return err
}

// Health and Monitoring

// HealthCheck verifies Redis connectivity
func (r *RedisService) HealthCheck() bool {
	err := r.client.Ping(r.ctx).Err()
	return err == nil
}

// GetStats returns cache performance statistics
func (r *RedisService) GetStats() map[string]interface{} {
	info, err := r.client.Info(r.ctx, "stats").Result()
	if err != nil {
		return map[string]interface{}{
			"error": err.Error(),
		}
	}

	stats := map[string]interface{}{
		"hits":        int64(0),
		"misses":      int64(0),
		"sets":        int64(0),
		"deletes":     int64(0),
		"connections": 0,
		"hit_rate":    0.0,
	}

	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.Contains(line, "keyspace_hits:") {
			parts := strings.Split(line, ":")
			if len(parts) == 2 {
				hits, _ := strconv.ParseInt(parts[1], 10, 64)
				stats["hits"] = hits
			}
		}
		if strings.Contains(line, "keyspace_misses:") {
			parts := strings.Split(line, ":")
			if len(parts) == 2 {
				misses, _ := strconv.ParseInt(parts[1], 10, 64)
				stats["misses"] = misses
			}
		}
	}

	// Get connection info
	clientInfo, err := r.client.Info(r.ctx, "clients").Result()
	if err == nil {
		lines = strings.Split(clientInfo, "\r\n")
		for _, line := range lines {
			if strings.Contains(line, "connected_clients:") {
				parts := strings.Split(line, ":")
				if len(parts) == 2 {
					connections, _ := strconv.Atoi(parts[1])
					stats["connections"] = connections
				}
			}
		}
	}

	// Calculate hit rate
	if hits, ok := stats["hits"].(int64); ok {
		if misses, ok := stats["misses"].(int64); ok {
			total := hits + misses
			if total > 0 {
				stats["hit_rate"] = float64(hits) / float64(total)
			}
		}
	}

	return stats
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	return r.client.Close()
}

// Utility Functions

// GetClient returns the underlying Redis client
func (r *RedisService) GetClient() *redis.Client {
	if client, ok := r.client.(*redis.Client); ok {
		return client
	}
	return nil
}

// GetContext returns the service context
func (r *RedisService) GetContext() context.Context {
	return r.ctx
}
