package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/metrics"
	"github.com/wyfcoding/marketfeed/pkg/retry"
)

// Publisher 将 Tick 可靠地发布到 Broker，实现 domain.TickPublisher
// 同一交易代码同一时刻最多一条未确认的发布，保证分区内顺序
type Publisher struct {
	writer     domain.RecordWriter
	topic      string
	policy     retry.Policy
	alertAfter time.Duration
	locks      *keyedMutex
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu           sync.Mutex
	failingSince time.Time
	alerting     bool
}

// NewPublisher 创建发布器
func NewPublisher(writer domain.RecordWriter, topic string, cfg config.PublisherConfig, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		topic:  topic,
		policy: retry.Policy{
			MaxRetries: cfg.MaxRetries,
			Initial:    cfg.BackoffInitial,
			Max:        cfg.BackoffMax,
			MaxElapsed: cfg.MaxElapsed,
		},
		alertAfter: cfg.AlertAfter,
		locks:      newKeyedMutex(),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish 实现 domain.TickPublisher
// 返回 nil 表示 Broker 已确认；重试耗尽返回包装 ErrBrokerUnavailable 的错误
func (p *Publisher) Publish(ctx context.Context, tick domain.Tick) error {
	rec, err := domain.NewPublishRecord(p.topic, tick)
	if err != nil {
		p.metrics.TicksPublished.WithLabelValues("invalid").Inc()
		return err
	}

	unlock := p.locks.Lock(rec.PartitionKey)
	defer unlock()

	start := time.Now()
	_, err = retry.Do(ctx, p.policy, func() (struct{}, error) {
		werr := p.writer.WriteRecord(ctx, rec)
		if werr == nil || errors.Is(werr, domain.ErrBrokerUnavailable) {
			return struct{}{}, werr
		}
		return struct{}{}, retry.Permanent(werr)
	}, func(err error, next time.Duration) {
		p.metrics.PublishRetries.Inc()
		p.logger.WarnContext(ctx, "publish failed, retrying",
			"dedup_key", rec.IdempotencyKey,
			"retry_in", next,
			"error", err,
		)
	})
	p.metrics.PublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.TicksPublished.WithLabelValues("failed").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		p.markFailing(ctx)
		if errors.Is(err, domain.ErrBrokerUnavailable) {
			return fmt.Errorf("publish %s: %w", rec.IdempotencyKey, err)
		}
		return fmt.Errorf("publish %s rejected: %w", rec.IdempotencyKey, err)
	}

	p.markHealthy(ctx)
	p.metrics.TicksPublished.WithLabelValues("ok").Inc()
	p.logger.DebugContext(ctx, "tick published", "dedup_key", rec.IdempotencyKey, "symbol", rec.PartitionKey)
	return nil
}

// Unavailable Broker 是否处于持续不可用告警中
func (p *Publisher) Unavailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alerting
}

func (p *Publisher) markFailing(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.failingSince.IsZero() {
		p.failingSince = now
	}
	if p.alerting || now.Sub(p.failingSince) < p.alertAfter {
		return
	}
	p.alerting = true
	p.metrics.BrokerUnavailable.Set(1)
	p.logger.ErrorContext(ctx, "broker unavailable beyond alert threshold",
		"since", p.failingSince,
		"threshold", p.alertAfter,
	)
}

func (p *Publisher) markHealthy(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.alerting {
		p.metrics.BrokerUnavailable.Set(0)
		p.logger.InfoContext(ctx, "broker recovered", "unavailable_for", p.now().Sub(p.failingSince))
	}
	p.failingSince = time.Time{}
	p.alerting = false
}
