// Package db provides database connection management for the collaboration
// service: PostgreSQL through GORM and Redis for session records.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jessiecms/collab/internal/slogging"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the configuration for Redis connection
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisDB represents a Redis database connection
type RedisDB struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisDB creates a new Redis database connection
func NewRedisDB(cfg RedisConfig) (*RedisDB, error) {
	logger := slogging.Get()
	logger.Debug("Initializing Redis connection to %s:%s DB=%d", cfg.Host, cfg.Port, cfg.DB)

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to ping Redis: %v", err)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Debug("Redis connection established successfully")

	return &RedisDB{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewRedisDBFromClient wraps an existing client; used by tests with miniredis
func NewRedisDBFromClient(client *redis.Client) *RedisDB {
	return &RedisDB{client: client}
}

// Close closes the Redis connection
func (db *RedisDB) Close() error {
	logger := slogging.Get()
	if db.client != nil {
		if err := db.client.Close(); err != nil {
			logger.Error("Error closing Redis connection: %v", err)
			return err
		}
		logger.Debug("Redis connection closed successfully")
	}
	return nil
}

// GetClient returns the Redis client
func (db *RedisDB) GetClient() *redis.Client {
	return db.client
}

// Ping checks if the Redis connection is alive
func (db *RedisDB) Ping(ctx context.Context) error {
	err := db.client.Ping(ctx).Err()
	if err != nil {
		slogging.Get().Error("Redis ping failed: %v", err)
	}
	return err
}
