package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Type StoreType `json:"type" yaml:"type"`
	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`
	// Redis is only used when Type is "redis"
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/persistence",
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "provisionflow:",
		},
	}
}

// NewStore creates a Store based on the configuration. db is required for the
// database backend and ignored otherwise, as are opts.
func NewStore(ctx context.Context, config StoreConfig, db *gorm.DB, logger *zap.Logger, opts ...GormOption) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(config.BaseDir, logger)
	case StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
			PoolSize: config.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisStore(client, config.Redis.KeyPrefix, logger), nil
	case StoreTypeDatabase:
		if db == nil {
			return nil, fmt.Errorf("%w: database store requires a gorm connection", ErrInvalidInput)
		}
		return NewGormStore(db, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported workflow store type: %s", config.Type)
	}
}
