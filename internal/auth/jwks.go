package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

import (
	jose "github.com/go-jose/go-jose/v3"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/rcu"
)

// KeySource yields the verification key for a given key ID.
type KeySource interface {
	Key(ctx context.Context, kid string) (*jose.JSONWebKey, error)
}

// HTTPKeySource fetches a JSON Web Key Set over HTTP and caches it in
// an RCU snapshot. The set refreshes on an interval and on an
// unknown-kid miss (rotation pushes a new kid before the next tick).
type HTTPKeySource struct {
	url     string
	client  *http.Client
	refresh time.Duration
	logger  *slog.Logger

	snap *rcu.Snapshot[jose.JSONWebKeySet]

	mu          sync.Mutex // guards lastFetch
	lastFetch   time.Time
	minInterval time.Duration
}

func NewHTTPKeySource(url string, timeout, refresh time.Duration, logger *slog.Logger) *HTTPKeySource {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}
	return &HTTPKeySource{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		refresh:     refresh,
		logger:      logger,
		snap:        rcu.NewSnapshot(&jose.JSONWebKeySet{}),
		minInterval: 10 * time.Second,
	}
}

// Key returns the key for kid from the cached set, refreshing once on a
// miss. An empty kid matches a single-key set.
func (s *HTTPKeySource) Key(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	if k := s.lookup(kid); k != nil {
		return k, nil
	}
	if err := s.refreshOnMiss(ctx); err != nil {
		return nil, err
	}
	if k := s.lookup(kid); k != nil {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (s *HTTPKeySource) lookup(kid string) *jose.JSONWebKey {
	set := s.snap.Load()
	if kid == "" {
		if len(set.Keys) == 1 {
			return &set.Keys[0]
		}
		return nil
	}
	if keys := set.Key(kid); len(keys) > 0 {
		return &keys[0]
	}
	return nil
}

// refreshOnMiss refreshes at most once per minInterval so a flood of
// bad-kid tokens cannot hammer the key endpoint.
func (s *HTTPKeySource) refreshOnMiss(ctx context.Context) error {
	s.mu.Lock()
	if time.Since(s.lastFetch) < s.minInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastFetch = time.Now()
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Refresh fetches the key set and replaces the snapshot.
func (s *HTTPKeySource) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("jwks: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks: fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetch %s: status %d", s.url, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("jwks: decode key set: %w", err)
	}
	s.snap.Replace(&set)
	s.logger.Info("jwks refreshed", "keys", len(set.Keys))
	return nil
}

// StartRefresher reloads the key set on the configured interval until
// ctx is cancelled. Fetch failures keep the last-good set.
func (s *HTTPKeySource) StartRefresher(ctx context.Context) {
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("jwks refresh failed, keeping last-good set", "err", err)
			}
		}
	}
}
