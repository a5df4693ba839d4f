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
	Mongo         bool      `json:"mongo"`
	Redis         []bool    `json:"redis"`
	Transactional bool      `json:"transactional"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// Healthy reports whether every checked dependency answered.
func (h HealthStatus) Healthy() bool {
	if !h.Mongo {
		return false
	}
	for _, ok := range h.Redis {
		if !ok {
			return false
		}
	}
	return true
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

func setHealthStatus(h HealthStatus) {
	mu.Lock()
	currentHealth = h
	mu.Unlock()
}

// CheckHealth pings Mongo and every Redis client once.
func CheckHealth(ctx context.Context, redisClients []*redis.Client, mongoClient *mongo.Client, transactional bool) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var redisHealth []bool
	for _, client := range redisClients {
		err := client.Ping(ctx).Err()
		redisHealth = append(redisHealth, err == nil)
	}

	mongoHealthy := mongoClient != nil && mongoClient.Ping(ctx, nil) == nil

	return HealthStatus{
		Mongo:         mongoHealthy,
		Redis:         redisHealth,
		Transactional: transactional,
		CheckedAt:     time.Now(),
	}
}

// StartHealthMonitor performs periodic health checks and updates in-memory state.
func StartHealthMonitor(redisClients []*redis.Client, mongoClient *mongo.Client, transactional bool) {
	setHealthStatus(CheckHealth(context.Background(), redisClients, mongoClient, transactional))
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			setHealthStatus(CheckHealth(context.Background(), redisClients, mongoClient, transactional))
		}
	}()
}
