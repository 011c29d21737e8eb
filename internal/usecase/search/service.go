package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/region"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/answer"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/request"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/search/status"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/domain/shardmsg"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/logger"
	"github.com/wayfinder/Wayfinder-Server-sub021/internal/metrics"
)

// Defaults for the dispatch limits.
const (
	DefaultConcurrency = 16
	DefaultTimeout     = 5 * time.Second
)

// Service runs searches: it owns one Handler per query and dispatches the
// handler's requests concurrently, feeding replies back one at a time.
type Service struct {
	dispatcher  Dispatcher
	catalogs    CatalogReader
	logger      *zap.Logger
	concurrency int64
	timeout     time.Duration
	queryID     atomic.Uint64
}

// New creates a search service. catalogs can be nil, in which case every
// handler fetches the top regions from the map service.
func New(dispatcher Dispatcher, catalogs CatalogReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dispatcher:  dispatcher,
		catalogs:    catalogs,
		logger:      logger,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
	}
}

// WithLimits sets the number of concurrent shard requests per search and
// the overall search timeout. Non-positive values keep the defaults.
func (s *Service) WithLimits(concurrency int, timeout time.Duration) *Service {
	if concurrency > 0 {
		s.concurrency = int64(concurrency)
	}
	if timeout > 0 {
		s.timeout = timeout
	}
	return s
}

// Search runs req to completion and returns the answer. Shard failures are
// reported through the answer status; the error is reserved for faults of
// the service itself.
func (s *Service) Search(ctx context.Context, req request.Request) (answer.Answer, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids := shardmsg.NewSequence(s.queryID.Add(1))
	log := s.requestLogger(ctx).With(zap.Uint64("query_id", ids.QueryID()))

	h := NewHandler(req, Deps{
		Catalog: s.catalog(ctx, log),
		IDs:     ids,
		Logger:  log,
		OnTransition: func(_, to State) {
			metrics.HandlerTransitionsTotal.WithLabelValues(to.String()).Inc()
		},
	})
	defer h.Close()

	if err := s.run(ctx, h, log); err != nil {
		return answer.Answer{}, err
	}

	a, err := h.TakeAnswer()
	if err != nil {
		return answer.Answer{}, fmt.Errorf("take answer: %w", err)
	}

	metrics.SearchesTotal.WithLabelValues(string(a.Status())).Inc()
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	log.Debug("Search finished",
		zap.String("status", string(a.Status())),
		zap.Int("matches", a.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	return a, nil
}

func (s *Service) requestLogger(ctx context.Context) *zap.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

// catalog loads the catalog. A failed load is not fatal: the handler then
// asks the map service for the top regions.
func (s *Service) catalog(ctx context.Context, log *zap.Logger) *region.Catalog {
	if s.catalogs == nil {
		return nil
	}
	c, err := s.catalogs.Catalog(ctx)
	if err != nil {
		log.Warn("Failed to load top-region catalog", zap.Error(err))
		return nil
	}
	return c
}

// run is the owner loop. Every dispatched request yields exactly one reply
// on an unbuffered channel, so the handler's counters always drain.
func (s *Service) run(ctx context.Context, h *Handler, log *zap.Logger) error {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	sem := semaphore.NewWeighted(s.concurrency)
	replies := make(chan shardmsg.Reply)
	inFlight := 0

	drain := func() {
		cancel()
		for ; inFlight > 0; inFlight-- {
			rep := <-replies
			metrics.ShardRequestsTotal.WithLabelValues(string(rep.Kind()), metrics.OutcomeDropped).Inc()
		}
		_ = g.Wait()
	}

	for {
		for {
			req, ok := h.NextRequest()
			if !ok {
				break
			}
			inFlight++
			g.Go(func() error {
				replies <- s.dispatch(dctx, sem, req, log)
				return nil
			})
		}
		if h.Done() {
			drain()
			return nil
		}
		if inFlight == 0 {
			drain()
			return fmt.Errorf("%w in state %s", domain.ErrHandlerStalled, h.State())
		}
		rep := <-replies
		inFlight--
		h.OnReply(rep)
	}
}

// dispatch sends one request. Transport errors become failure replies so
// the handler sees an answer for every request it issued.
func (s *Service) dispatch(
	ctx context.Context, sem *semaphore.Weighted, req shardmsg.Request, log *zap.Logger,
) shardmsg.Reply {
	kind := string(req.Kind())
	if err := sem.Acquire(ctx, 1); err != nil {
		metrics.ShardRequestsTotal.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return shardmsg.FailureFor(req, status.Timeout)
	}
	defer sem.Release(1)

	start := time.Now()
	rep, err := s.dispatcher.Send(ctx, req)
	metrics.ShardRequestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		code := status.NotOK
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			code = status.Timeout
		}
		shardErr := &domain.ShardError{Kind: kind, Shard: req.Head().Shard.String(), Err: err}
		if ctx.Err() == nil {
			log.Warn("Shard request failed", zap.Error(shardErr))
		}
		metrics.ShardRequestsTotal.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return shardmsg.FailureFor(req, code)
	}
	if rep == nil || rep.Kind() != req.Kind() || rep.Head().RequestID != req.Head().RequestID {
		log.Error("Shard reply does not answer its request",
			zap.String("kind", kind),
			zap.Uint32("request_id", req.Head().RequestID),
		)
		metrics.ShardRequestsTotal.WithLabelValues(kind, metrics.OutcomeError).Inc()
		return shardmsg.FailureFor(req, status.NotOK)
	}

	outcome := metrics.OutcomeOK
	if !rep.Status().IsOK() {
		outcome = metrics.OutcomeFailed
	}
	metrics.ShardRequestsTotal.WithLabelValues(kind, outcome).Inc()
	return rep
}
