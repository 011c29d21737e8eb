package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/db"
)

// rootPath is the only path supported without the JSON module.
const rootPath = "$"

// JSONSet stores a JSON document at the given key and path.
func (s *Store) JSONSet(ctx context.Context, key, path string, data []byte) error {
	if !s.nativeJSON {
		if path != rootPath {
			return &db.Error{Op: db.OpJSONSet, Err: fmt.Errorf("path %q needs the JSON module", path)}
		}
		return s.Set(ctx, key, data)
	}
	cmd := s.b().Arbitrary("JSON.SET").Keys(key).Args(path, string(data)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpJSONSet, Err: err}
	}
	return nil
}

// JSONGet retrieves a JSON document by key and optional paths.
func (s *Store) JSONGet(ctx context.Context, key string, paths ...string) ([]byte, error) {
	if !s.nativeJSON {
		return s.Get(ctx, key)
	}

	args := make([]string, len(paths))
	copy(args, paths)

	cmd := s.b().Arbitrary("JSON.GET").Keys(key).Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpJSONGet, Err: err}
	}
	if raw == "" {
		return nil, db.ErrKeyNotFound
	}
	return []byte(raw), nil
}
