package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
)

// DeadLetterQueue 死信主题，*mq.DeadLetterQueue 实现该接口
type DeadLetterQueue interface {
	Topic() string
	Send(ctx context.Context, key, envelope []byte, headers map[string]string) error
}

// DeadLetterWriter 实现 domain.DeadLetterWriter，将死信以 JSON 信封写入死信主题
type DeadLetterWriter struct {
	queue  DeadLetterQueue
	logger *slog.Logger
}

// NewDeadLetterWriter 创建死信写入器
func NewDeadLetterWriter(queue DeadLetterQueue, logger *slog.Logger) *DeadLetterWriter {
	return &DeadLetterWriter{queue: queue, logger: logger}
}

// Send 实现 domain.DeadLetterWriter
func (w *DeadLetterWriter) Send(ctx context.Context, dl domain.DeadLetter) error {
	envelope, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	key := dl.Key
	if key == "" {
		key = dl.ID
	}
	headers := map[string]string{
		"failure-reason": dl.Reason,
		"original-topic": dl.Topic,
	}
	if err := w.queue.Send(ctx, []byte(key), envelope, headers); err != nil {
		return classifyWriteError(ctx, err)
	}

	w.logger.WarnContext(ctx, "record dead-lettered",
		"id", dl.ID,
		"reason", dl.Reason,
		"dlq_topic", w.queue.Topic(),
		"topic", dl.Topic,
		"partition", dl.Partition,
		"offset", dl.Offset,
	)
	return nil
}
