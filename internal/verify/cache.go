package verify

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheMaxSize = 1024
	defaultCacheTTL     = 0
)

// CacheConfig bounds a verifier result cache.
type CacheConfig struct {
	// MaxSize is the maximum number of cached results.
	MaxSize int `yaml:"max_size" json:"max_size"`
	// TTL is how long a cached result stays valid. Zero disables expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultCacheConfig returns a 1024 entry cache without expiry.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxSize: defaultCacheMaxSize, TTL: defaultCacheTTL}
}

type cacheEntry struct {
	result   *Result
	storedAt time.Time
}

// Cached memoizes a delegate verifier keyed by the serialized (output, expected) pair.
type Cached struct {
	delegate Verifier
	cache    *lru.Cache[string, cacheEntry]
	ttl      time.Duration
}

// WithCache wraps v with a bounded LRU cache. Zero config values fall back
// to DefaultCacheConfig.
func WithCache(v Verifier, cfg CacheConfig) Verifier {
	if v == nil {
		return nil
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultCacheMaxSize
	}
	cache, err := lru.New[string, cacheEntry](cfg.MaxSize)
	if err != nil {
		// only fails on a non-positive size
		return v
	}
	return &Cached{delegate: v, cache: cache, ttl: cfg.TTL}
}

func (c *Cached) Name() string           { return c.delegate.Name() }
func (c *Cached) Weight() float64        { return c.delegate.Weight() }
func (c *Cached) Timeout() time.Duration { return c.delegate.Timeout() }

// Unwrap returns the cached verifier.
func (c *Cached) Unwrap() Verifier { return c.delegate }

// Len reports the number of cached entries.
func (c *Cached) Len() int { return c.cache.Len() }

// Verify returns a copy of the cached result on a hit. Failed calls are not
// cached, and inputs that cannot be serialized bypass the cache.
func (c *Cached) Verify(ctx context.Context, output, expected any) (*Result, error) {
	key, ok := cacheKey(output, expected)
	if !ok {
		return c.delegate.Verify(ctx, output, expected)
	}

	if entry, hit := c.cache.Get(key); hit {
		if c.ttl <= 0 || time.Since(entry.storedAt) < c.ttl {
			return entry.result.Clone(), nil
		}
		c.cache.Remove(key)
	}

	res, err := c.delegate.Verify(ctx, output, expected)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cacheEntry{result: res.Clone(), storedAt: time.Now()})
	return res, nil
}

// cacheKey serializes the pair with encoding/json, which sorts map keys and
// therefore yields a stable key for equal values.
func cacheKey(output, expected any) (string, bool) {
	data, err := json.Marshal([2]any{output, expected})
	if err != nil {
		return "", false
	}
	return string(data), true
}
