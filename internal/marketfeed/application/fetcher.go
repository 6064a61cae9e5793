package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/metrics"
	"github.com/wyfcoding/marketfeed/pkg/ratelimit"
	"github.com/wyfcoding/marketfeed/pkg/retry"
)

// PollStats 单轮采集统计
type PollStats struct {
	Requested  int           `json:"requested"`
	Fetched    int           `json:"fetched"`
	Dropped    int           `json:"dropped"`
	RetriedOut int           `json:"retried_out"`
	Fatal      int           `json:"fatal"`
	Malformed  int           `json:"malformed"`
	Duration   time.Duration `json:"duration"`
}

// Fetcher 在共享配额下从数据源拉取报价
type Fetcher struct {
	provider   domain.QuoteProvider
	limiter    ratelimit.Limiter
	workers    int
	queueDepth int
	policy     retry.Policy
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewFetcher 创建采集器
func NewFetcher(provider domain.QuoteProvider, limiter ratelimit.Limiter, cfg config.FetcherConfig, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		provider:   provider,
		limiter:    limiter,
		workers:    max(cfg.Workers, 1),
		queueDepth: max(cfg.MaxQueueDepth, 1),
		policy: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			Initial:    cfg.BackoffInitial,
			Max:        cfg.BackoffMax,
		},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Poll 拉取一轮报价，返回顺序与 symbols 一致
// 单个代码失败只影响本轮的该代码
func (f *Fetcher) Poll(ctx context.Context, symbols []string) ([]domain.RawQuote, PollStats) {
	start := time.Now()
	stats := PollStats{Requested: len(symbols)}

	queue := newDispatchQueue(f.queueDepth)
	var (
		mu      sync.Mutex
		results = make(map[string]domain.RawQuote, len(symbols))
		wg      sync.WaitGroup
	)

	for i := 0; i < f.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				symbol, ok := queue.pop(ctx)
				if !ok {
					return
				}
				q, outcome := f.fetchOne(ctx, symbol)

				mu.Lock()
				switch outcome {
				case fetchOK:
					results[symbol] = q
					stats.Fetched++
				case fetchRetriedOut:
					stats.RetriedOut++
				case fetchFatal:
					stats.Fatal++
				case fetchMalformed:
					stats.Malformed++
				}
				mu.Unlock()
				f.metrics.QuotesFetched.WithLabelValues(outcome.String()).Inc()
			}
		}()
	}

	for _, symbol := range symbols {
		if dropped, ok := queue.push(symbol); ok {
			mu.Lock()
			stats.Dropped++
			mu.Unlock()
			f.metrics.FetchQueueDropped.Inc()
			f.metrics.QuotesFetched.WithLabelValues("dropped").Inc()
			f.logger.WarnContext(ctx, "dispatch queue full, dropping oldest symbol",
				"dropped", dropped,
				"depth", f.queueDepth,
			)
		}
	}
	queue.close()
	wg.Wait()

	quotes := make([]domain.RawQuote, 0, len(results))
	for _, symbol := range symbols {
		if q, ok := results[symbol]; ok {
			quotes = append(quotes, q)
		}
	}
	stats.Duration = time.Since(start)
	return quotes, stats
}

type fetchOutcome int

const (
	fetchOK fetchOutcome = iota
	fetchRetriedOut
	fetchFatal
	fetchMalformed
	fetchCancelled
)

func (o fetchOutcome) String() string {
	switch o {
	case fetchOK:
		return "ok"
	case fetchRetriedOut:
		return "retried_out"
	case fetchFatal:
		return "fatal"
	case fetchMalformed:
		return "malformed"
	default:
		return "cancelled"
	}
}

// fetchOne 拉取单个代码，每次出站请求（含重试）消耗一个令牌
func (f *Fetcher) fetchOne(ctx context.Context, symbol string) (domain.RawQuote, fetchOutcome) {
	var retryAfter time.Duration
	q, err := retry.Do(ctx, f.policy, func() (domain.RawQuote, error) {
		if retryAfter > 0 {
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return domain.RawQuote{}, retry.Permanent(err)
			}
			retryAfter = 0
		}
		if err := f.limiter.Wait(ctx); err != nil {
			return domain.RawQuote{}, retry.Permanent(err)
		}

		q, err := f.provider.FetchQuote(ctx, symbol)
		if err == nil {
			return q, nil
		}
		var rl *domain.RateLimitError
		switch {
		case errors.As(err, &rl):
			retryAfter = rl.RetryAfter
			return domain.RawQuote{}, err
		case errors.Is(err, domain.ErrTransientNetwork):
			return domain.RawQuote{}, err
		default:
			return domain.RawQuote{}, retry.Permanent(err)
		}
	}, func(err error, next time.Duration) {
		f.metrics.FetchRetries.Inc()
		f.logger.DebugContext(ctx, "fetch failed, retrying", "symbol", symbol, "retry_in", next, "error", err)
	})

	switch {
	case err == nil:
		if q.ReceivedAt.IsZero() {
			q.ReceivedAt = f.now().UTC()
		}
		if q.Source == "" {
			q.Source = f.provider.Name()
		}
		return q, fetchOK
	case ctx.Err() != nil:
		return domain.RawQuote{}, fetchCancelled
	case errors.Is(err, domain.ErrMalformedQuote):
		f.logger.WarnContext(ctx, "malformed quote dropped", "symbol", symbol, "error", err)
		return domain.RawQuote{}, fetchMalformed
	case errors.Is(err, domain.ErrTransientNetwork), errors.Is(err, domain.ErrRateLimited):
		f.logger.WarnContext(ctx, "fetch retries exhausted, skipping symbol this cycle", "symbol", symbol, "error", err)
		return domain.RawQuote{}, fetchRetriedOut
	default:
		f.logger.ErrorContext(ctx, "fatal provider error", "symbol", symbol, "provider", f.provider.Name(), "error", err)
		return domain.RawQuote{}, fetchFatal
	}
}

// dispatchQueue 有界 FIFO，满时丢弃最早入队的元素
type dispatchQueue struct {
	mu     sync.Mutex
	items  []string
	depth  int
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

func newDispatchQueue(depth int) *dispatchQueue {
	return &dispatchQueue{
		depth: depth,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push 入队，队列已满时返回被丢弃的元素
func (q *dispatchQueue) push(item string) (dropped string, ok bool) {
	q.mu.Lock()
	if len(q.items) >= q.depth {
		dropped, ok = q.items[0], true
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return dropped, ok
}

// pop 阻塞直到取到元素；队列关闭且为空或 ctx 结束时返回 false
func (q *dispatchQueue) pop(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return "", false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-q.ready:
		case <-q.done:
		}
	}
}

func (q *dispatchQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *dispatchQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
