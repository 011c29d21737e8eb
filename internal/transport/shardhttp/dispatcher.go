// Package shardhttp sends per-shard requests to the search and map services
// as JSON over HTTP.
package shardhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shard"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
)

const (
	// DefaultTimeout bounds a single shard round trip.
	DefaultTimeout = 2 * time.Second
	maxReplyBytes  = 32 << 20
	pathPrefix     = "/v1/"
)

// Config holds the shard service addresses.
type Config struct {
	SearchURL string
	MapURL    string
	// Overrides send search-service requests for single shards elsewhere.
	Overrides map[shard.ID]string
	// RateLimit is requests per second per service base URL; 0 disables it.
	RateLimit  float64
	Burst      int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Dispatcher implements search.Dispatcher over HTTP.
type Dispatcher struct {
	client    *http.Client
	searchURL string
	mapURL    string
	overrides map[shard.ID]string
	limiters  map[string]*rate.Limiter
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. One limiter is built per distinct
// base URL, so overridden shards do not share the default budget.
func NewDispatcher(cfg *Config) *Dispatcher {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		client:    client,
		searchURL: strings.TrimRight(cfg.SearchURL, "/"),
		mapURL:    strings.TrimRight(cfg.MapURL, "/"),
		overrides: make(map[shard.ID]string, len(cfg.Overrides)),
		limiters:  make(map[string]*rate.Limiter),
		logger:    logger,
	}
	for id, u := range cfg.Overrides {
		d.overrides[id] = strings.TrimRight(u, "/")
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		bases := []string{d.searchURL, d.mapURL}
		for _, u := range d.overrides {
			bases = append(bases, u)
		}
		for _, b := range bases {
			if _, ok := d.limiters[b]; !ok {
				d.limiters[b] = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
			}
		}
	}
	return d
}

// targetOf falls back to the service that serves the request kind when the
// header does not name one.
func targetOf(req shardmsg.Request) shard.Target {
	if t := req.Head().Target; t.IsValid() {
		return t
	}
	switch req.Kind() {
	case shardmsg.KindOverviewSearch, shardmsg.KindSearch, shardmsg.KindExpandItem:
		return shard.TargetSearch
	default:
		return shard.TargetMap
	}
}

func (d *Dispatcher) baseURL(req shardmsg.Request) string {
	if targetOf(req) == shard.TargetMap {
		return d.mapURL
	}
	if u, ok := d.overrides[req.Head().Shard]; ok {
		return u
	}
	return d.searchURL
}

// Send posts req and decodes the reply. Context errors are returned wrapped
// so callers can tell a timeout from a shard failure.
func (d *Dispatcher) Send(ctx context.Context, req shardmsg.Request) (shardmsg.Reply, error) {
	base := d.baseURL(req)
	if base == "" {
		return nil, fmt.Errorf("no %s service configured: %w", targetOf(req), domain.ErrShardUnreachable)
	}

	if lim, ok := d.limiters[base]; ok {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("wait for rate limiter: %w", ctx.Err())
			}
			return nil, fmt.Errorf("%s request to %s: %w", req.Kind(), base, domain.ErrRateLimited)
		}
	}

	body, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}
	url := base + pathPrefix + string(req.Kind())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Kind(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s request: %w", req.Kind(), ctx.Err())
		}
		return nil, fmt.Errorf("%s request to %s: %v: %w", req.Kind(), base, err, domain.ErrShardUnreachable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %v: %w", req.Kind(), err, domain.ErrShardUnreachable)
	}

	d.logger.Debug("shard round trip",
		zap.String("kind", string(req.Kind())),
		zap.Stringer("shard", req.Head().Shard),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, parseStatusError(req.Kind(), resp.StatusCode, data)
	}
	return decodeReply(req, data)
}

// parseStatusError maps a non-200 shard response to a domain error.
func parseStatusError(kind shardmsg.Kind, code int, body []byte) error {
	wrap := domain.ErrShardUnreachable
	if code == http.StatusTooManyRequests {
		wrap = domain.ErrRateLimited
	}
	if detail := extractDetail(body); detail != "" {
		return fmt.Errorf("%s reply %d: %s: %w", kind, code, detail, wrap)
	}
	return fmt.Errorf("%s reply %d: %w", kind, code, wrap)
}

// extractDetail reads the "detail" or "message" field of a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Message
}
