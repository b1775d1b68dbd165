package utils

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthStatus represents current status of external services.
type HealthStatus struct {
	Mongo     *bool     `json:"mongo,omitempty"`
	Redis     []bool    `json:"redis"`
	CheckedAt time.Time `json:"checkedAt"`
}

var (
	currentHealth HealthStatus
	mu            sync.RWMutex
)

// GetHealthStatus returns latest stored health snapshot.
func GetHealthStatus() HealthStatus {
	mu.RLock()
	defer mu.RUnlock()
	return currentHealth
}

// StartHealthMonitor performs periodic health checks and updates in-memory state.
// A nil mongoClient is skipped (non-mongo profile stores).
func StartHealthMonitor(ctx context.Context, redisClients []*redis.Client, mongoClient *mongo.Client) {
	check := func() {
		var redisHealth []bool
		for _, client := range redisClients {
			err := client.Ping(ctx).Err()
			redisHealth = append(redisHealth, err == nil)
		}

		status := HealthStatus{Redis: redisHealth, CheckedAt: time.Now()}
		if mongoClient != nil {
			healthy := mongoClient.Ping(ctx, nil) == nil
			status.Mongo = &healthy
		}

		mu.Lock()
		currentHealth = status
		mu.Unlock()
	}

	go func() {
		check()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}
