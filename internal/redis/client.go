package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/scout-progress/internal/config"
)

// Key layout
const (
	keyPrefix       = "progress:"
	catalogKey      = keyPrefix + "catalog"
	verifiedChannel = keyPrefix + "verified"
)

func profileKey(memberID string) string {
	return fmt.Sprintf("%smember:%s", keyPrefix, memberID)
}

func activityLogKey(memberID string) string {
	return fmt.Sprintf("%smember:%s:log", keyPrefix, memberID)
}

func badgeKey(memberID string) string {
	return fmt.Sprintf("%sbadges:%s", keyPrefix, memberID)
}

func badgeGenerationKey(memberID string) string {
	return fmt.Sprintf("%sbadges:%s:gen", keyPrefix, memberID)
}

// NewClient creates a Redis client and verifies the connection
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}
