// Package mq 提供 Kafka 生产者、按 Header 分区的 Balancer、消费组与分区读取器的封装
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/marketfeed/pkg/config"
)

// 消息 Header
const (
	// HeaderSymbol 分区依据
	HeaderSymbol         = "symbol"
	HeaderIdempotencyKey = "idempotency-key"
	HeaderContentType    = "content-type"
)

// HeaderBalancer 按指定 Header 的值做一致性哈希分区，Header 缺失时退回消息 Key
// 消息 Key 用作去重键，分区键需要单独携带
type HeaderBalancer struct {
	Header string
	hash   kafka.Hash
}

// NewHeaderBalancer 创建 Balancer
func NewHeaderBalancer(header string) *HeaderBalancer {
	return &HeaderBalancer{Header: header}
}

// Balance 实现 kafka.Balancer
func (b *HeaderBalancer) Balance(msg kafka.Message, partitions ...int) int {
	key := msg.Key
	for _, h := range msg.Headers {
		if h.Key == b.Header {
			key = h.Value
			break
		}
	}
	return b.hash.Balance(kafka.Message{Key: key}, partitions...)
}

// PartitionFor 计算分区键落在 n 个分区中的哪一个
func (b *HeaderBalancer) PartitionFor(partitionKey string, n int) int {
	partitions := make([]int, n)
	for i := range partitions {
		partitions[i] = i
	}
	return b.hash.Balance(kafka.Message{Key: []byte(partitionKey)}, partitions...)
}

// Producer Kafka 生产者
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer 创建 Kafka 生产者
// 写入为同步模式并等待所有副本确认，重试由调用方控制
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               NewHeaderBalancer(HeaderSymbol),
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		BatchTimeout:           5 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
		Compression:            kafka.Snappy,
	}

	logger.Info("kafka producer created", "brokers", cfg.Brokers)
	return &Producer{writer: writer, logger: logger}
}

// Send 同步发送一条消息，返回 nil 表示 Broker 已确认
func (p *Producer) Send(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WarnContext(ctx, "kafka write failed", "topic", topic, "key", string(key), "error", err)
		return err
	}
	p.logger.DebugContext(ctx, "kafka message sent", "topic", topic, "key", string(key))
	return nil
}

// Close 关闭生产者，刷出未完成的写入
func (p *Producer) Close() error {
	return p.writer.Close()
}

// IsTemporary 判断写入错误是否值得重试
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && !IsTemporary(e) {
				return false
			}
		}
		return true
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}
	// 连接拒绝、超时等网络错误
	return true
}

// NewConsumerGroup 创建消费组成员，offset 由调用方显式提交
func NewConsumerGroup(cfg config.KafkaConfig, topic string, logger *slog.Logger) (*kafka.ConsumerGroup, error) {
	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	group, err := kafka.NewConsumerGroup(kafka.ConsumerGroupConfig{
		ID:                cfg.GroupID,
		Brokers:           cfg.Brokers,
		Topics:            []string{topic},
		SessionTimeout:    cfg.SessionTimeout,
		RebalanceTimeout:  cfg.RebalanceTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StartOffset:       start,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Warn(fmt.Sprintf(msg, args...), "group_id", cfg.GroupID)
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join consumer group %s: %w", cfg.GroupID, err)
	}

	logger.Info("kafka consumer group created",
		"brokers", cfg.Brokers,
		"topic", topic,
		"group_id", cfg.GroupID,
	)
	return group, nil
}

// NewPartitionReader 创建单分区读取器并定位到 offset
// offset 可以是 kafka.FirstOffset / kafka.LastOffset
func NewPartitionReader(brokers []string, topic string, partition int, offset int64) (*kafka.Reader, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6, // 10MB
		MaxWait:   250 * time.Millisecond,
	})
	if err := reader.SetOffset(offset); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("failed to seek %s[%d] to %d: %w", topic, partition, offset, err)
	}
	return reader, nil
}

// DeadLetterQueue 死信队列
type DeadLetterQueue struct {
	producer *Producer
	topic    string
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer *Producer, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{
		producer: producer,
		topic:    topic,
	}
}

// Topic 死信主题
func (q *DeadLetterQueue) Topic() string { return q.topic }

// Send 发送一条已编码的死信
func (q *DeadLetterQueue) Send(ctx context.Context, key, envelope []byte, headers map[string]string) error {
	return q.producer.Send(ctx, q.topic, key, envelope, headers)
}
