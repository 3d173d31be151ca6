// Package session owns the cookie and anti-forgery token pair used against
// the listing API and refreshes it when the API rejects it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"eures-rank/internal/domain"
	"eures-rank/internal/metrics"
	"eures-rank/internal/state"
)

// State is a cookie/token pair captured together. It is always replaced
// whole, never field by field.
type State struct {
	Cookie     string    `json:"cookie"`
	Token      string    `json:"token"`
	Fresh      bool      `json:"-"`
	ObtainedAt time.Time `json:"obtained_at"`
}

func (s State) valid() bool { return s.Cookie != "" && s.Token != "" }

type Options struct {
	// AuthFailureStatuses are the HTTP statuses that mean "session rejected".
	// Defaults to 401 and 403.
	AuthFailureStatuses []int
	Logger              *zap.Logger
	Metrics             *metrics.Collector
}

// Manager is safe for concurrent use.
type Manager struct {
	src     Source
	cache   state.Store
	log     *zap.Logger
	metrics *metrics.Collector
	auth    map[int]struct{}
	now     func() time.Time

	mu      sync.Mutex
	current State
	stale   bool
}

func NewManager(src Source, cache state.Store, opts Options) *Manager {
	statuses := opts.AuthFailureStatuses
	if len(statuses) == 0 {
		statuses = []int{401, 403}
	}
	auth := make(map[int]struct{}, len(statuses))
	for _, s := range statuses {
		auth[s] = struct{}{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		src:     src,
		cache:   cache,
		log:     log,
		metrics: opts.Metrics,
		auth:    auth,
		now:     time.Now,
	}
}

// IsAuthFailure reports whether an HTTP status means the session was rejected.
func (m *Manager) IsAuthFailure(status int) bool {
	_, ok := m.auth[status]
	return ok
}

// EnsureValid returns a session usable for at least one request: the one in
// memory, else the cached one, else a new one from the source.
func (m *Manager) EnsureValid(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.stale && m.current.valid() {
		return m.current, nil
	}
	if !m.stale && m.cache != nil {
		var cached State
		ok, err := m.cache.Get(ctx, state.KeySession, &cached)
		if err != nil {
			m.log.Warn("session cache unreadable", zap.Error(err))
		}
		if ok && cached.valid() {
			m.current = cached
			m.log.Debug("session loaded from cache", zap.Time("obtained_at", cached.ObtainedAt))
			return m.current, nil
		}
	}
	return m.refreshLocked(ctx)
}

// Invalidate marks the current session unusable. The next EnsureValid
// refreshes instead of reusing the cache.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = State{}
	m.stale = true
}

// Refresh obtains a brand-new pair from the source and replaces both the
// in-memory session and the cached copy.
func (m *Manager) Refresh(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) (State, error) {
	creds, err := m.src.Acquire(ctx)
	if err != nil {
		return State{}, fmt.Errorf("acquire session: %w", err)
	}
	if creds.Cookie == "" || creds.Token == "" {
		return State{}, errors.New("acquire session: source returned an empty cookie or token")
	}
	next := State{Cookie: creds.Cookie, Token: creds.Token, Fresh: true, ObtainedAt: m.now().UTC()}
	if m.cache != nil {
		if err := m.cache.Put(ctx, state.KeySession, next); err != nil {
			return State{}, fmt.Errorf("cache session: %w", err)
		}
	}
	m.current = next
	m.stale = false
	m.metrics.SessionRefreshed()
	m.log.Info("session refreshed")
	return next, nil
}

// RequestFunc performs one request with the given session and returns the
// HTTP status it received (0 when no response arrived).
type RequestFunc func(ctx context.Context, s State) (status int, err error)

// Do runs fn with the current session. If fn reports an authentication
// failure the session is invalidated, refreshed and fn is retried exactly
// once; a second consecutive failure returns domain.ErrAuthExhausted.
func (m *Manager) Do(ctx context.Context, fn RequestFunc) error {
	s, err := m.EnsureValid(ctx)
	if err != nil {
		return err
	}
	status, err := fn(ctx, s)
	if !m.IsAuthFailure(status) {
		return err
	}

	m.metrics.AuthFailure()
	m.log.Warn("session rejected, refreshing", zap.Int("status", status))
	m.Invalidate()
	if s, err = m.Refresh(ctx); err != nil {
		return err
	}
	status, err = fn(ctx, s)
	if m.IsAuthFailure(status) {
		m.metrics.AuthFailure()
		return fmt.Errorf("%w: status %d after refresh", domain.ErrAuthExhausted, status)
	}
	return err
}
