package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/metrics"
)

// CycleReport 单轮采集-规范化-发布的结果
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Poll       PollStats     `json:"poll"`
	Accepted   int           `json:"accepted"`
	Suppressed int           `json:"suppressed"`
	Rejected   int           `json:"rejected"`
	Invalid    int           `json:"invalid"`
	Published  int           `json:"published"`
	Failed     int           `json:"failed"`
}

// Ingestor 采集循环：Fetcher → Normalizer → Publisher
// 持有所有交易代码的 FetchWindow
type Ingestor struct {
	fetcher     *Fetcher
	normalizer  *domain.Normalizer
	publisher   domain.TickPublisher
	symbols     []string
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.Mutex
	windows map[string]*domain.FetchWindow
	last    CycleReport
}

// NewIngestor 创建采集循环
func NewIngestor(fetcher *Fetcher, normalizer *domain.Normalizer, publisher domain.TickPublisher, symbols []string, publishConcurrency int, m *metrics.Metrics, logger *slog.Logger) *Ingestor {
	windows := make(map[string]*domain.FetchWindow, len(symbols))
	for _, s := range symbols {
		windows[s] = domain.NewFetchWindow(s)
	}
	return &Ingestor{
		fetcher:     fetcher,
		normalizer:  normalizer,
		publisher:   publisher,
		symbols:     append([]string(nil), symbols...),
		concurrency: max(publishConcurrency, 1),
		metrics:     m,
		logger:      logger,
		windows:     windows,
	}
}

// RunCycle 执行一轮
// 单个代码的采集、校验或发布失败只影响该代码，不会中断本轮
func (i *Ingestor) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: time.Now().UTC()}

	quotes, stats := i.fetcher.Poll(ctx, i.symbols)
	report.Poll = stats
	i.metrics.PollDuration.Observe(stats.Duration.Seconds())

	// 同一代码在一轮内只会出现一次，发布按代码并发、代码内串行
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(i.concurrency)

	for _, raw := range quotes {
		tick, err := i.normalizer.Normalize(raw)
		if err != nil {
			report.Invalid++
			i.metrics.TicksNormalized.WithLabelValues("invalid").Inc()
			i.logger.WarnContext(ctx, "quote rejected by normalizer", "symbol", raw.Symbol, "source", raw.Source, "error", err)
			continue
		}

		window := i.window(tick.Symbol())
		i.mu.Lock()
		window.MarkFetched(raw.ReceivedAt)
		decision := i.normalizer.Admit(tick, window)
		lastObserved := window.LastObservedAt()
		i.mu.Unlock()
		i.metrics.TicksNormalized.WithLabelValues(decision.String()).Inc()

		switch decision {
		case domain.DecisionSuppress:
			report.Suppressed++
			i.logger.DebugContext(ctx, "duplicate tick suppressed", "dedup_key", tick.DedupKey())
			continue
		case domain.DecisionReject:
			report.Rejected++
			i.logger.WarnContext(ctx, "out-of-order tick rejected",
				"symbol", tick.Symbol(),
				"observed_at", tick.ObservedAt(),
				"last_observed_at", lastObserved,
			)
			continue
		}
		report.Accepted++

		g.Go(func() error {
			err := i.publisher.Publish(ctx, tick)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					i.logger.ErrorContext(ctx, "publish failed, continuing with next symbol", "dedup_key", tick.DedupKey(), "error", err)
				}
				return nil
			}
			report.Published++
			i.mu.Lock()
			window.MarkPublished(tick)
			i.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.StartedAt)
	i.mu.Lock()
	i.last = report
	i.mu.Unlock()

	i.logger.InfoContext(ctx, "poll cycle completed",
		"requested", stats.Requested,
		"fetched", stats.Fetched,
		"published", report.Published,
		"suppressed", report.Suppressed,
		"rejected", report.Rejected,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report
}

// LastReport 最近一轮的结果
func (i *Ingestor) LastReport() CycleReport {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.last
}

// Window 返回代码的窗口快照
func (i *Ingestor) Window(symbol string) (domain.FetchWindow, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	w, ok := i.windows[symbol]
	if !ok {
		return domain.FetchWindow{}, false
	}
	return *w, true
}

func (i *Ingestor) window(symbol string) *domain.FetchWindow {
	i.mu.Lock()
	defer i.mu.Unlock()
	w, ok := i.windows[symbol]
	if !ok {
		w = domain.NewFetchWindow(symbol)
		i.windows[symbol] = w
	}
	return w
}
