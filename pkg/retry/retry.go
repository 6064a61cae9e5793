// Package retry 封装 cenkalti/backoff 的指数退避重试策略
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy 重试策略
type Policy struct {
	// 首次失败后的最大重试次数，0 表示不重试
	MaxRetries int
	// 初始退避
	Initial time.Duration
	// 单次退避上限
	Max time.Duration
	// 总耗时上限，0 表示不限
	MaxElapsed time.Duration
	// 退避抖动系数，默认 0.5
	Jitter float64
}

// NewBackOff 按策略创建指数退避器
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Jitter > 0 {
		b.RandomizationFactor = p.Jitter
	}
	return b
}

// Do 执行 op，直到成功、返回 Permanent 错误、重试耗尽或 ctx 结束
// notify 在每次重试前被调用，可以为 nil
func Do[T any](ctx context.Context, p Policy, op backoff.Operation[T], notify backoff.Notify) (T, error) {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.NewBackOff()),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0)) + 1),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	} else {
		opts = append(opts, backoff.WithMaxElapsedTime(0))
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return backoff.Retry(ctx, op, opts...)
}

// Permanent 标记不可重试的错误
func Permanent(err error) error {
	return backoff.Permanent(err)
}
