package chain

import (
	"context"

	"walletsnap/go-backend/internal/platform/ratelimiter"
)

// ThrottledReader spends one limiter token under key before every read.
type ThrottledReader struct {
	next    VersionReader
	limiter *ratelimiter.MapLimiter
	key     string
}

func NewThrottledReader(next VersionReader, limiter *ratelimiter.MapLimiter, key string) *ThrottledReader {
	return &ThrottledReader{next: next, limiter: limiter, key: key}
}

func (t *ThrottledReader) GetVersion(ctx context.Context, address string) (string, error) {
	if err := t.limiter.Wait(ctx, t.key); err != nil {
		return "", err
	}
	return t.next.GetVersion(ctx, address)
}

func (t *ThrottledReader) Invalidate(address string) {
	if inv, ok := t.next.(Invalidator); ok {
		inv.Invalidate(address)
	}
}
