package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"eures-rank/internal/config"
	"eures-rank/internal/embedding"
	"eures-rank/internal/fetcher"
	"eures-rank/internal/ingest"
	"eures-rank/internal/logger"
	"eures-rank/internal/metrics"
	"eures-rank/internal/rank"
	"eures-rank/internal/session"
	"eures-rank/internal/state"
	"eures-rank/internal/store"
	"eures-rank/internal/vectorize"
)

// app holds what every command opens: config, logger, store, state and metrics.
type app struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	store    store.Store
	state    state.Store
	registry *prometheus.Registry
	metrics  *metrics.Collector
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

func openApp(ctx context.Context, configPath, command string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	base, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	log := logger.WithRun(base, command)

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	stateStore, err := state.Open(ctx, cfg.State)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	reg := prometheus.NewRegistry()
	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		state:    stateStore,
		registry: reg,
		metrics:  metrics.NewCollector(reg),
	}, nil
}

func (a *app) Close() error {
	var errs []error
	errs = append(errs, a.store.Close())
	if c, ok := a.state.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}

func (a *app) sessionSource() session.Source {
	sc := a.cfg.Session
	switch sc.Source {
	case "command":
		return session.CommandSource{Args: sc.Command}
	case "bootstrap":
		return session.BootstrapSource{URL: sc.BootstrapURL, Client: &http.Client{Timeout: a.cfg.FetchTimeout()}}
	default:
		return session.StaticSource{Cookie: getenv(sc.CookieEnv), Token: getenv(sc.TokenEnv)}
	}
}

func (a *app) criteria() fetcher.Criteria {
	fc := a.cfg.Fetch
	langs := make([]fetcher.Language, len(fc.Languages))
	for i, l := range fc.Languages {
		langs[i] = fetcher.Language{ISOCode: l.ISOCode, Level: l.Level}
	}
	return fetcher.Criteria{
		Keywords:    fc.Keywords,
		Period:      fc.Period,
		Occupations: fc.Occupations,
		Schedules:   fc.Schedules,
		Sectors:     fc.Sectors,
		Offerings:   fc.Offerings,
		Locations:   fc.Locations,
		Languages:   langs,
	}
}

func (a *app) pipeline(log *zap.Logger) *ingest.Pipeline {
	sess := session.NewManager(a.sessionSource(), a.state, session.Options{
		AuthFailureStatuses: a.cfg.Session.AuthFailureStatuses,
		Logger:              log,
		Metrics:             a.metrics,
	})
	f := fetcher.New(sess, fetcher.Options{
		BaseURL:      a.cfg.Fetch.BaseURL,
		PageSize:     a.cfg.Fetch.PageSize,
		MaxPages:     a.cfg.Fetch.MaxPages,
		MaxAttempts:  uint(a.cfg.Fetch.MaxAttempts),
		PageDelay:    a.cfg.PageDelay(),
		FetchDetails: a.cfg.Fetch.FetchDetails,
		Client:       &http.Client{Timeout: a.cfg.FetchTimeout()},
		Logger:       log,
		Metrics:      a.metrics,
	})
	return ingest.New(a.store, a.state, f, ingest.Options{
		ExcludeTerms: a.cfg.Fetch.ExcludeTerms,
		Logger:       log,
		Metrics:      a.metrics,
	})
}

func (a *app) vectorizer(log *zap.Logger, workers int) (*vectorize.Vectorizer, error) {
	emb, err := embedding.New(a.cfg.Embedder)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = a.cfg.Vectorize.Workers
	}
	return vectorize.New(a.store, a.state, emb, vectorize.Config{
		Workers: workers,
		Logger:  log,
		Metrics: a.metrics,
	}), nil
}

func (a *app) ranker() (*rank.Service, error) {
	emb, err := embedding.New(a.cfg.Embedder)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(a.cfg.Rank.CacheTTLSecs) * time.Second
	return rank.NewService(a.store, emb, ttl, a.log), nil
}
