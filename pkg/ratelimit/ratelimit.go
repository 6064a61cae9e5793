// Package ratelimit 提供出站请求配额控制：本地滑动窗口令牌桶与基于 Redis 的分布式限流
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limiter 出站请求限流器，每次出站请求前调用一次 Wait
type Limiter interface {
	// Wait 阻塞直到获得一个令牌或 ctx 结束
	Wait(ctx context.Context) error
}

// SlidingWindow 每个窗口最多 quota 个令牌的令牌桶
// 每个令牌在被消费后恰好一个窗口长度才回到桶中，因此任意长度为 window 的时间段内放行数不超过 quota
type SlidingWindow struct {
	quota  int
	window time.Duration
	now    func() time.Time

	mu sync.Mutex
	// 最近 quota 次放行时间，环形缓冲
	ring []time.Time
	head int
	size int
}

// Option 配置项
type Option func(*SlidingWindow)

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// NewSlidingWindow 创建本地限流器
func NewSlidingWindow(quota int, window time.Duration, opts ...Option) *SlidingWindow {
	if quota <= 0 {
		quota = 1
	}
	if window <= 0 {
		window = time.Second
	}
	s := &SlidingWindow{
		quota:  quota,
		window: window,
		now:    time.Now,
		ring:   make([]time.Time, quota),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve 预留一个令牌，返回需要等待的时长
// 预留即占用配额，调用方放弃等待时该令牌不会归还
func (s *SlidingWindow) Reserve() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	at := now
	if s.size == s.quota {
		// 第 quota 个之前的放行时间再过一个窗口才允许下一次
		if earliest := s.ring[s.head].Add(s.window); earliest.After(at) {
			at = earliest
		}
		s.ring[s.head] = at
		s.head = (s.head + 1) % s.quota
	} else {
		s.ring[(s.head+s.size)%s.quota] = at
		s.size++
	}
	return at.Sub(now)
}

// Wait 实现 Limiter
func (s *SlidingWindow) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := s.Reserve()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Quota 每个窗口的配额
func (s *SlidingWindow) Quota() int { return s.quota }

// Window 窗口长度
func (s *SlidingWindow) Window() time.Duration { return s.window }

// Limit 分布式限流规则
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// RedisLimiter 基于 redis_rate（GCRA）的分布式限流，多个采集副本共享同一数据源配额
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	key     string
	limit   Limit
}

// NewRedisLimiter 创建分布式限流器
func NewRedisLimiter(rdb redis.UniversalClient, key string, limit Limit) *RedisLimiter {
	if limit.Burst <= 0 {
		limit.Burst = limit.Rate
	}
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		key:     key,
		limit:   limit,
	}
}

// Wait 实现 Limiter
func (r *RedisLimiter) Wait(ctx context.Context) error {
	for {
		res, err := r.limiter.Allow(ctx, r.key, redis_rate.Limit{
			Rate:   r.limit.Rate,
			Period: r.limit.Period,
			Burst:  r.limit.Burst,
		})
		if err != nil {
			return fmt.Errorf("rate limit check failed: %w", err)
		}
		if res.Allowed > 0 {
			return nil
		}

		wait := res.RetryAfter
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
