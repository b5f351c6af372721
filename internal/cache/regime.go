package cache

import (
	"context"
	"time"

	"tradecore/internal/domain/regime"
)

// RegimeSource is any regime lookup that can be fronted by the cache
type RegimeSource interface {
	GetRegime(ctx context.Context, symbol string) (*regime.Regime, error)
}

// CachedRegimeProvider memoizes regime lookups per symbol for a fixed TTL.
// Errors are never cached.
type CachedRegimeProvider struct {
	source RegimeSource
	cache  *TTL[string, *regime.Regime]
}

func NewCachedRegimeProvider(source RegimeSource, ttl time.Duration) *CachedRegimeProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRegimeProvider{
		source: source,
		cache:  NewTTL[string, *regime.Regime](ttl),
	}
}

// WithClock replaces the cache's time source, for tests
func (p *CachedRegimeProvider) WithClock(now func() time.Time) *CachedRegimeProvider {
	p.cache.WithClock(now)
	return p
}

func (p *CachedRegimeProvider) GetRegime(ctx context.Context, symbol string) (*regime.Regime, error) {
	if r, ok := p.cache.Get(symbol); ok {
		return r, nil
	}
	r, err := p.source.GetRegime(ctx, symbol)
	if err != nil {
		return nil, err
	}
	p.cache.Set(symbol, r)
	return r, nil
}

// Clear drops every cached classification
func (p *CachedRegimeProvider) Clear() {
	p.cache.Clear()
}

func (p *CachedRegimeProvider) Stats() Stats {
	return p.cache.Stats()
}
