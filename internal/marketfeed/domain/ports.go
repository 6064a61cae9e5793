package domain

import (
	"context"
	"time"
)

//go:generate mockgen -source=ports.go -destination=mock/ports_mock.go -package=mock

// QuoteProvider 外部报价数据源
type QuoteProvider interface {
	// Name 数据源名称
	Name() string
	// FetchQuote 拉取单个交易代码的最新报价
	// 错误需归类为 ErrTransientNetwork / ErrRateLimited / ErrFatalProvider / ErrMalformedQuote
	FetchQuote(ctx context.Context, symbol string) (RawQuote, error)
}

// RecordWriter Broker 生产端
// 返回 nil 表示 Broker 已确认；可重试错误需包装 ErrBrokerUnavailable
type RecordWriter interface {
	WriteRecord(ctx context.Context, rec PublishRecord) error
}

// TickPublisher 将 Tick 可靠地发布到 Broker
type TickPublisher interface {
	Publish(ctx context.Context, tick Tick) error
}

// Message Broker 投递的一条记录
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// PartitionAssignment 分配给当前成员的分区
type PartitionAssignment struct {
	Topic     string
	Partition int
	// 起始 offset：已提交位置，或 Broker 的 first/last 特殊值
	Offset int64
}

// PartitionReader 读取单个分区
type PartitionReader interface {
	// Fetch 阻塞直到读到下一条记录或 ctx 结束
	Fetch(ctx context.Context) (Message, error)
	Close() error
}

// Generation 消费组的一代成员关系
type Generation interface {
	// ID 代号
	ID() int32
	// Assignments 本代分配到的分区
	Assignments() []PartitionAssignment
	// Start 启动分区工作函数，本代结束（再平衡或关闭）时 ctx 被取消
	Start(fn func(ctx context.Context))
	// OpenReader 打开分区读取器，从 assignment.Offset 开始
	OpenReader(a PartitionAssignment) (PartitionReader, error)
	// Commit 提交下一条待读 offset；本代已结束时返回 ErrRebalanceInProgress
	Commit(topic string, partition int, nextOffset int64) error
}

// ConsumerGroup 消费组成员
type ConsumerGroup interface {
	// Next 阻塞直到加入下一代；组关闭后返回 ErrGroupClosed
	Next(ctx context.Context) (Generation, error)
	// Close 离开消费组
	Close() error
}

// DeadLetterWriter 死信通道
type DeadLetterWriter interface {
	Send(ctx context.Context, dl DeadLetter) error
}
