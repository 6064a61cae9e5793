package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/mq"
)

// ConsumerGroup 将 kafka.ConsumerGroup 适配为 domain.ConsumerGroup
type ConsumerGroup struct {
	group   *kafka.ConsumerGroup
	brokers []string
	topic   string
}

// NewConsumerGroup 包装已创建的 kafka 消费组
func NewConsumerGroup(group *kafka.ConsumerGroup, brokers []string, topic string) *ConsumerGroup {
	return &ConsumerGroup{group: group, brokers: brokers, topic: topic}
}

// Next 实现 domain.ConsumerGroup
func (g *ConsumerGroup) Next(ctx context.Context) (domain.Generation, error) {
	gen, err := g.group.Next(ctx)
	if err != nil {
		if errors.Is(err, kafka.ErrGroupClosed) {
			return nil, domain.ErrGroupClosed
		}
		return nil, err
	}
	return &generation{gen: gen, brokers: g.brokers, topic: g.topic}, nil
}

// Close 实现 domain.ConsumerGroup
func (g *ConsumerGroup) Close() error {
	return g.group.Close()
}

type generation struct {
	gen     *kafka.Generation
	brokers []string
	topic   string
}

func (g *generation) ID() int32 { return g.gen.ID }

func (g *generation) Assignments() []domain.PartitionAssignment {
	assigned := g.gen.Assignments[g.topic]
	out := make([]domain.PartitionAssignment, 0, len(assigned))
	for _, a := range assigned {
		out = append(out, domain.PartitionAssignment{Topic: g.topic, Partition: a.ID, Offset: a.Offset})
	}
	return out
}

func (g *generation) Start(fn func(ctx context.Context)) {
	g.gen.Start(fn)
}

func (g *generation) OpenReader(a domain.PartitionAssignment) (domain.PartitionReader, error) {
	r, err := mq.NewPartitionReader(g.brokers, a.Topic, a.Partition, a.Offset)
	if err != nil {
		return nil, err
	}
	return &partitionReader{reader: r}, nil
}

func (g *generation) Commit(topic string, partition int, nextOffset int64) error {
	err := g.gen.CommitOffsets(map[string]map[int]int64{topic: {partition: nextOffset}})
	return mapCommitError(err)
}

// mapCommitError 本代已失效的提交错误归类为 ErrRebalanceInProgress
func mapCommitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kafka.ErrGenerationEnded),
		errors.Is(err, kafka.RebalanceInProgress),
		errors.Is(err, kafka.IllegalGeneration),
		errors.Is(err, kafka.UnknownMemberId),
		errors.Is(err, kafka.ErrGroupClosed):
		return fmt.Errorf("%w: %v", domain.ErrRebalanceInProgress, err)
	default:
		return fmt.Errorf("offset commit failed: %w", err)
	}
}

type partitionReader struct {
	reader *kafka.Reader
}

func (r *partitionReader) Fetch(ctx context.Context) (domain.Message, error) {
	m, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Message{}, err
	}
	return toDomainMessage(m), nil
}

func (r *partitionReader) Close() error {
	return r.reader.Close()
}

func toDomainMessage(m kafka.Message) domain.Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}
}
