package embedding

import (
	"fmt"
	"time"

	"eures-rank/internal/config"
	"eures-rank/internal/domain"
	"eures-rank/internal/embedding/hashing"
	"eures-rank/internal/embedding/openai"
)

// Embedder converts free text into a numeric vector representation.
type Embedder = domain.Embedder

// New builds the embedder selected in cfg.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.New(cfg.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			Dimension:  cfg.Dimension,
			MaxRetries: cfg.OpenAI.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}
