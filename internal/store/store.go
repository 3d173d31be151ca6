// Package store opens the configured job store backend.
package store

import (
	"context"
	"fmt"
	"os"

	"eures-rank/internal/config"
	"eures-rank/internal/domain"
	"eures-rank/internal/store/bolt"
	"eures-rank/internal/store/memory"
	"eures-rank/internal/store/postgres"
)

type Store = domain.JobStore

func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "bolt", "":
		s, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		url := os.Getenv(cfg.DatabaseURLEnv)
		if url == "" {
			return nil, fmt.Errorf("%s is not set", cfg.DatabaseURLEnv)
		}
		s, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
