package domain

import (
	"context"
	"time"
)

// SinkOutcome 下游处理结果的三种状态
type SinkOutcome int

const (
	// SinkSuccess 处理成功（包括识别为重复投递）
	SinkSuccess SinkOutcome = iota
	// SinkRetryable 可重试失败，批次不提交并重试
	SinkRetryable
	// SinkFatal 不可重试失败，Tick 进入死信，批次继续
	SinkFatal
)

func (o SinkOutcome) String() string {
	switch o {
	case SinkSuccess:
		return "success"
	case SinkRetryable:
		return "retryable"
	case SinkFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SinkResult 下游处理结果
type SinkResult struct {
	Outcome SinkOutcome
	Err     error
}

// Success 成功结果
func Success() SinkResult { return SinkResult{Outcome: SinkSuccess} }

// Retryable 可重试失败
func Retryable(err error) SinkResult { return SinkResult{Outcome: SinkRetryable, Err: err} }

// Fatal 不可重试失败
func Fatal(err error) SinkResult { return SinkResult{Outcome: SinkFatal, Err: err} }

//go:generate mockgen -source=sink.go -destination=mock/sink_mock.go -package=mock

// Sink 下游适配器
// 实现必须按 Tick.DedupKey() 幂等：重复投递的可观察效果与一次投递相同
type Sink interface {
	Handle(ctx context.Context, tick Tick) SinkResult
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, tick Tick) SinkResult

// Handle 调用 f
func (f SinkFunc) Handle(ctx context.Context, tick Tick) SinkResult { return f(ctx, tick) }

// 死信原因
const (
	DeadLetterPoison = "poison_message"
	DeadLetterFatal  = "sink_fatal"
)

// DeadLetter 死信记录
type DeadLetter struct {
	ID        string    `json:"id"`
	Reason    string    `json:"failure_reason"`
	Error     string    `json:"failure_error"`
	GroupID   string    `json:"group_id"`
	Topic     string    `json:"original_topic"`
	Partition int       `json:"original_partition"`
	Offset    int64     `json:"original_offset"`
	Key       string    `json:"original_key"`
	Value     string    `json:"original_value"`
	FailedAt  time.Time `json:"failure_timestamp"`
}
