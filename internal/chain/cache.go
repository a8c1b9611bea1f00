package chain

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 30 * time.Second
)

// CachingReader keeps recent versions per address. Not-found answers and
// errors are never cached so a fresh deployment shows up on the next read.
type CachingReader struct {
	next  VersionReader
	cache *expirable.LRU[string, string]
}

var _ Invalidator = (*CachingReader)(nil)

func NewCachingReader(next VersionReader, size int, ttl time.Duration) *CachingReader {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachingReader{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *CachingReader) GetVersion(ctx context.Context, address string) (string, error) {
	if v, ok := c.cache.Get(address); ok {
		return v, nil
	}
	v, err := c.next.GetVersion(ctx, address)
	if err != nil {
		return "", err
	}
	c.cache.Add(address, v)
	return v, nil
}

func (c *CachingReader) Invalidate(address string) {
	c.cache.Remove(address)
	if inv, ok := c.next.(Invalidator); ok {
		inv.Invalidate(address)
	}
}
