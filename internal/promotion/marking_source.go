package promotion

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/d-kessler/CountertopDarkMatter/internal/marking"
	"github.com/d-kessler/CountertopDarkMatter/internal/observability/metrics"
)

// MarkingSource resolves marking geometry by classification id. Ids without
// a marking are absent from the result.
type MarkingSource interface {
	FindMarkings(ctx context.Context, classificationIDs []int64) (map[int64]marking.Marking, error)
}

// CachedMarkingSource keeps looked-up markings in memory. Markings are
// immutable once drawn, so entries only expire to bound memory.
type CachedMarkingSource struct {
	inner   MarkingSource
	cache   *cache.Cache
	metrics *metrics.PromotionMetrics
}

// NewCachedMarkingSource wraps inner with a cache whose entries live for ttl.
// A non-positive ttl keeps entries for the life of the source.
func NewCachedMarkingSource(inner MarkingSource, ttl time.Duration, m *metrics.PromotionMetrics) *CachedMarkingSource {
	var c *cache.Cache
	if ttl > 0 {
		c = cache.New(ttl, 2*ttl)
	} else {
		c = cache.New(cache.NoExpiration, 0)
	}
	return &CachedMarkingSource{inner: inner, cache: c, metrics: m}
}

// FindMarkings serves cached ids and fetches the rest from the wrapped source.
func (s *CachedMarkingSource) FindMarkings(ctx context.Context, ids []int64) (map[int64]marking.Marking, error) {
	out := make(map[int64]marking.Marking, len(ids))
	var missing []int64

	for _, id := range ids {
		if v, ok := s.cache.Get(cacheKey(id)); ok {
			out[id] = v.(marking.Marking)
			s.metrics.RecordMarkingCache(metrics.CacheHit)
			continue
		}
		s.metrics.RecordMarkingCache(metrics.CacheMiss)
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.inner.FindMarkings(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, m := range fetched {
		s.cache.SetDefault(cacheKey(id), m)
		out[id] = m
	}
	return out, nil
}

// Len returns the number of cached markings.
func (s *CachedMarkingSource) Len() int {
	return s.cache.ItemCount()
}

func cacheKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
