// Package pricing 实现定价服务 HTTP 桥接下游
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/config"
)

// Name 下游名称
const Name = "pricing"

const ticksPath = "/v1/ticks"

// errRetryableStatus 定价服务返回的可重试状态，计入熔断
type errRetryableStatus struct {
	code int
}

func (e *errRetryableStatus) Error() string {
	return fmt.Sprintf("pricing service returned %d", e.code)
}

// Sink 定价服务下游
type Sink struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New 创建定价服务下游
func New(cfg config.PricingSinkConfig, logger *slog.Logger) *Sink {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := uint32(5)
	if cfg.BreakerFailures > 0 {
		failures = uint32(cfg.BreakerFailures)
	}

	s := &Sink{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", domain.ContentTypeTickV1),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pricing-sink",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Name 下游名称
func (s *Sink) Name() string { return Name }

// Handle 实现 domain.Sink
// 定价服务以 Idempotency-Key 去重，409 视为已处理
func (s *Sink) Handle(ctx context.Context, tick domain.Tick) domain.SinkResult {
	payload, err := domain.EncodeTick(tick)
	if err != nil {
		return domain.Fatal(err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.Retryable(err)
	}

	out, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", tick.DedupKey()).
			SetBody(payload).
			Post(ticksPath)
		if err != nil {
			return nil, err
		}
		if retryableStatus(resp.StatusCode()) {
			return nil, &errRetryableStatus{code: resp.StatusCode()}
		}
		return resp.StatusCode(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Retryable(fmt.Errorf("pricing sink unavailable: %w", err))
		}
		return domain.Retryable(fmt.Errorf("pricing sink %s: %w", tick.DedupKey(), err))
	}

	code := out.(int)
	switch {
	case code >= 200 && code < 300, code == http.StatusConflict:
		return domain.Success()
	default:
		s.logger.ErrorContext(ctx, "pricing service rejected tick", "dedup_key", tick.DedupKey(), "status", code)
		return domain.Fatal(fmt.Errorf("pricing service rejected %s with %d", tick.DedupKey(), code))
	}
}

// State 熔断器状态
func (s *Sink) State() string {
	return s.breaker.State().String()
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
