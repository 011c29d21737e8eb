package answercache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/db"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/answer"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/request"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/wire"
)

var cacheKeyPrefix = domain.KeyPrefix + "answer:"

// store is the consumer interface for the answer cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Searcher runs a search to completion.
type Searcher interface {
	Search(ctx context.Context, req request.Request) (answer.Answer, error)
}

// CachedSearcher caches successful answers in a key-value store.
type CachedSearcher struct {
	inner      Searcher
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator. A non-positive ttl disables caching.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner Searcher,
	s store,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedSearcher {
	return &CachedSearcher{
		inner:      inner,
		store:      s,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Search returns a cached answer or runs the inner search.
// Only answers with status OK are stored.
func (c *CachedSearcher) Search(ctx context.Context, req request.Request) (answer.Answer, error) {
	if c.ttl <= 0 {
		return c.inner.Search(ctx, req) //nolint:wrapcheck // transparent when disabled
	}

	key := c.cacheKey(req)
	if a, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return a, nil
	}

	c.incCache("miss")

	a, err := c.inner.Search(ctx, req)
	if err != nil {
		return answer.Answer{}, fmt.Errorf("search: %w", err)
	}

	if a.Status().IsOK() {
		c.putToCache(ctx, key, a)
	}
	return a, nil
}

func (c *CachedSearcher) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedSearcher) cacheKey(req request.Request) string {
	h := sha256.Sum256([]byte(req.CacheKey()))
	return cacheKeyPrefix + hex.EncodeToString(h[:])
}

func (c *CachedSearcher) getFromCache(ctx context.Context, key string) (answer.Answer, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached answer", zap.String("key", key), zap.Error(err))
		}
		return answer.Answer{}, false
	}
	if len(data) == 0 {
		return answer.Answer{}, false
	}

	var w wire.Answer
	if err := json.Unmarshal(data, &w); err != nil {
		c.logger.Warn("Failed to parse cached answer", zap.String("key", key), zap.Error(err))
		return answer.Answer{}, false
	}
	a, err := w.ToAnswer()
	if err != nil {
		c.logger.Warn("Failed to decode cached answer", zap.String("key", key), zap.Error(err))
		return answer.Answer{}, false
	}
	return a, true
}

func (c *CachedSearcher) putToCache(ctx context.Context, key string, a answer.Answer) {
	data, err := json.Marshal(wire.FromAnswer(a))
	if err != nil {
		c.logger.Warn("Failed to encode answer", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache answer", zap.String("key", key), zap.Error(err))
	}
}
