package state

import (
	"context"
	"fmt"
	"os"

	"eures-rank/internal/config"
)

// Open builds the configured store.
func Open(ctx context.Context, cfg config.StateConfig) (Store, error) {
	switch cfg.Type {
	case "file", "":
		fs, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "redis":
		url := os.Getenv(cfg.RedisURLEnv)
		if url == "" {
			return nil, fmt.Errorf("%s is not set", cfg.RedisURLEnv)
		}
		client, err := NewRedisClient(ctx, url)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown state type: %s", cfg.Type)
	}
}
