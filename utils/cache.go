// File: utils/cache.go
package utils

import (
	"carelink/config"
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var (
	// SessionCacheClient backs challenges, device sessions and replay credentials.
	SessionCacheClient *redis.Client
)

// InitSessionCache initializes the Redis client for ephemeral auth state.
func InitSessionCache() {
	SessionCacheClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisSessionDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := SessionCacheClient.Ping(ctx).Result()
	if err != nil {
		GetLogger().Fatal("Failed to connect to Redis (Session Cache)", zap.Error(err))
	}
}

// GetSessionCacheClient returns the Redis client for ephemeral auth state.
func GetSessionCacheClient() *redis.Client {
	if SessionCacheClient == nil {
		InitSessionCache()
	}
	return SessionCacheClient
}

// NewKVStore returns the Redis-backed store when Redis is configured and an
// in-process store otherwise.
func NewKVStore() KVStore {
	if config.AppConfig.RedisAddr == "" {
		GetLogger().Warn("REDIS_ADDR is empty; ephemeral auth state is kept in process memory")
		return NewMemoryKVStore()
	}
	return NewRedisKVStore(GetSessionCacheClient())
}
