package answercache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/db"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/answer"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/request"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
)

type mockSearcher struct {
	result answer.Answer
	err    error
	calls  int
}

func (m *mockSearcher) Search(_ context.Context, _ request.Request) (answer.Answer, error) {
	m.calls++
	return m.result, m.err
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func newTestCachedSearcher(
	t *testing.T, inner *mockSearcher, ttl time.Duration,
) (*CachedSearcher, *mockKVStore, *prometheus.CounterVec) {
	t.Helper()
	ms := &mockKVStore{}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_answer_cache_total"}, []string{"result"})
	cs := New(inner, ms, ttl, counter, zap.NewNop())
	return cs, ms, counter
}

func mustRequest(t *testing.T, query string) request.Request {
	t.Helper()
	r, err := request.New(request.Params{Query: query, Shards: []shard.ID{1}})
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return r
}
