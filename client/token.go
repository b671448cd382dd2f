package client

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultTokenCacheTTL = 25 * time.Minute

var errMissingFetch = errors.New("client: token fetch function is required")

// TokenFetchFunc obtains a fresh bearer token from the identity system.
type TokenFetchFunc func(ctx context.Context) (string, error)

// CachedTokenSourceConfig configures the token cache.
type CachedTokenSourceConfig struct {
	Fetch TokenFetchFunc
	TTL   time.Duration
	Clock func() time.Time
}

// CachedTokenSource caches one bearer token for a fixed TTL. It is the single
// owner of the token: callers go through Token and Invalidate rather than
// holding the string themselves.
type CachedTokenSource struct {
	fetch TokenFetchFunc
	ttl   time.Duration
	clock func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewCachedTokenSource constructs the cache.
func NewCachedTokenSource(cfg CachedTokenSourceConfig) (*CachedTokenSource, error) {
	if cfg.Fetch == nil {
		return nil, errMissingFetch
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CachedTokenSource{
		fetch: cfg.Fetch,
		ttl:   ttl,
		clock: clock,
	}, nil
}

// Token returns the cached token, fetching a replacement when the cached one
// is absent or past its TTL.
func (s *CachedTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.token != "" && now.Before(s.expiresAt) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = now.Add(s.ttl)
	return token, nil
}

// Invalidate discards the cached token so the next Token call fetches anew.
// Called after an unauthorized response.
func (s *CachedTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}
