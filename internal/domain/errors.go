package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals a search request that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTopRegionNotFound signals a top region id absent from the catalog.
	ErrTopRegionNotFound = errors.New("top region not found")
	// ErrSearchNotDone signals an answer requested before the search finished.
	ErrSearchNotDone = errors.New("search not done")
	// ErrAnswerTaken signals a second TakeAnswer on the same handler.
	ErrAnswerTaken = errors.New("answer already taken")
	// ErrShardUnreachable signals a transport failure towards a shard service.
	ErrShardUnreachable = errors.New("shard unreachable")
	// ErrHandlerStalled signals a handler waiting for replies that were never requested.
	ErrHandlerStalled = errors.New("search handler stalled")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

// ShardError wraps a failure of a single per-shard request.
type ShardError struct {
	Kind  string
	Shard string
	Err   error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("%s request to shard %s: %v", e.Kind, e.Shard, e.Err)
}

func (e *ShardError) Unwrap() error { return e.Err }
