package search

import (
	"context"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
)

// Dispatcher delivers one per-shard request and returns the shard's reply.
// The reply must carry the request's header.
type Dispatcher interface {
	Send(ctx context.Context, req shardmsg.Request) (shardmsg.Reply, error)
}

// CatalogReader provides the current top-region catalog.
type CatalogReader interface {
	Catalog(ctx context.Context) (*region.Catalog, error)
}
