package domain

import (
	"errors"
	"fmt"
	"time"
)

// 错误分类
var (
	// ErrTransientNetwork 瞬时网络错误（超时、连接失败、5xx），退避重试
	ErrTransientNetwork = errors.New("transient network error")
	// ErrRateLimited 数据源限流，延迟后重新排队，不算失败
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrValidation 单条记录校验失败，丢弃后继续
	ErrValidation = errors.New("validation failed")
	// ErrSerialization 序列化失败，该记录进入死信
	ErrSerialization = errors.New("serialization failed")
	// ErrBrokerUnavailable Broker 不可用，退避重试，持续不可用时告警
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrPoisonMessage 无法解码的消息
	ErrPoisonMessage = errors.New("poison message")
	// ErrRebalanceInProgress 分区已被回收，丢弃未提交的工作
	ErrRebalanceInProgress = errors.New("rebalance in progress")
	// ErrFatalProvider 数据源不可重试错误（鉴权失败、代码不存在等）
	ErrFatalProvider = errors.New("fatal provider error")
	// ErrMalformedQuote 数据源返回的报价缺少字段或格式不正确
	ErrMalformedQuote = errors.New("malformed quote")
	// ErrGroupClosed 消费组已关闭
	ErrGroupClosed = errors.New("consumer group closed")
)

// ValidationError 校验失败详情
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RateLimitError 携带数据源建议的等待时间
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "rate limit exceeded"
}

// Is 使 errors.Is(err, ErrRateLimited) 成立
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// IsRetryable 判断错误是否可以重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrBrokerUnavailable)
}
