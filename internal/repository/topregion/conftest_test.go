package topregion

import (
	"context"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/db"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	data  map[string][]byte
	err   error
	paths []string
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string][]byte{}}
}

func (m *mockStore) JSONSet(_ context.Context, key, path string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.paths = append(m.paths, path)
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *mockStore) JSONGet(_ context.Context, key string, _ ...string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return d, nil
}
