package rap

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// DefaultLookupTimeout bounds a shared upstream lookup when NewCachedSource
// is given no timeout.
const DefaultLookupTimeout = 10 * time.Second

// CachedSource memoises successful lookups of another Source for ttl and
// collapses concurrent identical lookups into one upstream call. Failures
// are not cached.
//
// The shared call does not inherit any single caller's cancellation: each
// caller stops waiting when its own context ends, while the lookup runs on
// for the others, bounded by timeout.
type CachedSource struct {
	next    Source
	cache   *cache.Cache
	group   singleflight.Group
	timeout time.Duration
}

// NewCachedSource wraps next.
func NewCachedSource(next Source, ttl, timeout time.Duration) *CachedSource {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &CachedSource{
		next:    next,
		cache:   cache.New(ttl, 2*ttl),
		timeout: timeout,
	}
}

// Price implements Source.
func (s *CachedSource) Price(ctx context.Context, req Request) (decimal.Decimal, error) {
	key := req.key()
	if v, ok := s.cache.Get(key); ok {
		return v.(decimal.Decimal), nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		price, err := s.next.Price(shared, req)
		if err != nil {
			return nil, err
		}
		s.cache.SetDefault(key, price)
		return price, nil
	})

	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}
