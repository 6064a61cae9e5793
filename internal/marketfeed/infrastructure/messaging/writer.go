// Package messaging 将 kafka-go 适配为领域层的 Broker 端口
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/mq"
)

// Sender 同步发送消息，*mq.Producer 实现该接口
type Sender interface {
	Send(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// TickWriter 实现 domain.RecordWriter
// 消息 Key 为去重键，分区由 symbol 头决定
type TickWriter struct {
	sender Sender
}

// NewTickWriter 创建 TickWriter
func NewTickWriter(sender Sender) *TickWriter {
	return &TickWriter{sender: sender}
}

// WriteRecord 实现 domain.RecordWriter
func (w *TickWriter) WriteRecord(ctx context.Context, rec domain.PublishRecord) error {
	headers := map[string]string{
		mq.HeaderSymbol:         rec.PartitionKey,
		mq.HeaderIdempotencyKey: rec.IdempotencyKey,
		mq.HeaderContentType:    domain.ContentTypeTickV1,
	}
	err := w.sender.Send(ctx, rec.Topic, []byte(rec.IdempotencyKey), rec.Payload, headers)
	return classifyWriteError(ctx, err)
}

// classifyWriteError 可重试的写入错误包装为 ErrBrokerUnavailable
func classifyWriteError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	if mq.IsTemporary(err) {
		return fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}
	return fmt.Errorf("kafka write rejected: %w", err)
}
