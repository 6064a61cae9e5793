// Package memorybroker 提供进程内的分区日志 Broker，语义与 Kafka 消费组一致：
// 按分区键哈希分区、分区内有序、每个分区同一时刻只有一个消费者、offset 由消费者显式提交
package memorybroker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/mq"
)

// Broker 内存 Broker
type Broker struct {
	partitions int
	balancer   *mq.HeaderBalancer
	now        func() time.Time

	mu          sync.Mutex
	topics      map[string][]*partitionLog
	committed   map[offsetKey]int64
	groups      map[string]*group
	deadLetters []domain.DeadLetter

	// 故障注入
	failBefore int
	failAfter  int
}

type offsetKey struct {
	group     string
	topic     string
	partition int
}

type partitionLog struct {
	messages []domain.Message
	// 有新消息时关闭并替换
	notify chan struct{}
}

// New 创建 Broker，每个主题固定 partitions 个分区
func New(partitions int) *Broker {
	if partitions <= 0 {
		partitions = 1
	}
	return &Broker{
		partitions: partitions,
		balancer:   mq.NewHeaderBalancer(mq.HeaderSymbol),
		now:        time.Now,
		topics:     make(map[string][]*partitionLog),
		committed:  make(map[offsetKey]int64),
		groups:     make(map[string]*group),
	}
}

// Partitions 每个主题的分区数
func (b *Broker) Partitions() int { return b.partitions }

// PartitionFor 分区键对应的分区
func (b *Broker) PartitionFor(partitionKey string) int {
	return b.balancer.PartitionFor(partitionKey, b.partitions)
}

// FailNext 使接下来 n 次写入在落盘前失败
func (b *Broker) FailNext(n int) {
	b.mu.Lock()
	b.failBefore = n
	b.mu.Unlock()
}

// LoseNextAcks 使接下来 n 次写入落盘成功但向生产者返回失败，模拟确认丢失
func (b *Broker) LoseNextAcks(n int) {
	b.mu.Lock()
	b.failAfter = n
	b.mu.Unlock()
}

// WriteRecord 实现 domain.RecordWriter
func (b *Broker) WriteRecord(ctx context.Context, rec domain.PublishRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failBefore > 0 {
		b.failBefore--
		return fmt.Errorf("%w: injected write failure", domain.ErrBrokerUnavailable)
	}

	logs := b.topicLocked(rec.Topic)
	p := b.balancer.PartitionFor(rec.PartitionKey, b.partitions)
	pl := logs[p]
	pl.messages = append(pl.messages, domain.Message{
		Topic:     rec.Topic,
		Partition: p,
		Offset:    int64(len(pl.messages)),
		Key:       []byte(rec.IdempotencyKey),
		Value:     append([]byte(nil), rec.Payload...),
		Headers: map[string]string{
			mq.HeaderSymbol:         rec.PartitionKey,
			mq.HeaderIdempotencyKey: rec.IdempotencyKey,
			mq.HeaderContentType:    domain.ContentTypeTickV1,
		},
		Time: b.now(),
	})
	close(pl.notify)
	pl.notify = make(chan struct{})

	if b.failAfter > 0 {
		b.failAfter--
		return fmt.Errorf("%w: injected lost acknowledgement", domain.ErrBrokerUnavailable)
	}
	return nil
}

// Append 直接写入原始消息，用于构造毒消息
func (b *Broker) Append(topic string, partition int, key, value []byte) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	pl := b.topicLocked(topic)[partition]
	offset := int64(len(pl.messages))
	pl.messages = append(pl.messages, domain.Message{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Value:     value,
		Headers:   map[string]string{},
		Time:      b.now(),
	})
	close(pl.notify)
	pl.notify = make(chan struct{})
	return offset
}

// Messages 返回分区日志的副本
func (b *Broker) Messages(topic string, partition int) []domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	logs, ok := b.topics[topic]
	if !ok {
		return nil
	}
	return append([]domain.Message(nil), logs[partition].messages...)
}

// Committed 消费组在分区上已提交的 offset
func (b *Broker) Committed(groupID, topic string, partition int) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, ok := b.committed[offsetKey{groupID, topic, partition}]
	return off, ok
}

// Send 实现 domain.DeadLetterWriter
func (b *Broker) Send(ctx context.Context, dl domain.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetters = append(b.deadLetters, dl)
	return nil
}

// DeadLetters 返回已写入的死信
func (b *Broker) DeadLetters() []domain.DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.DeadLetter(nil), b.deadLetters...)
}

func (b *Broker) topicLocked(topic string) []*partitionLog {
	logs, ok := b.topics[topic]
	if !ok {
		logs = make([]*partitionLog, b.partitions)
		for i := range logs {
			logs[i] = &partitionLog{notify: make(chan struct{})}
		}
		b.topics[topic] = logs
	}
	return logs
}

// JoinGroup 以新成员身份加入消费组，触发再平衡
func (b *Broker) JoinGroup(groupID, topic string) *Member {
	b.mu.Lock()
	g, ok := b.groups[groupID]
	if !ok {
		g = &group{id: groupID, topic: topic, current: make(map[*Member]*Generation), ready: make(chan struct{})}
		b.groups[groupID] = g
	}
	m := &Member{broker: b, group: g, closed: make(chan struct{})}
	g.members = append(g.members, m)
	b.topicLocked(topic)
	b.mu.Unlock()

	b.rebalance(g)
	return m
}

// Rebalance 强制消费组进入下一代
func (b *Broker) Rebalance(groupID string) {
	b.mu.Lock()
	g, ok := b.groups[groupID]
	b.mu.Unlock()
	if ok {
		b.rebalance(g)
	}
}

type group struct {
	id    string
	topic string

	// 串行化再平衡
	rebalanceMu sync.Mutex

	members []*Member
	genID   int32
	current map[*Member]*Generation
	// 新一代就绪时关闭并替换
	ready chan struct{}
}

// rebalance 结束当前一代，等待所有分区工作函数退出后再分配新一代
func (b *Broker) rebalance(g *group) {
	g.rebalanceMu.Lock()
	defer g.rebalanceMu.Unlock()

	b.mu.Lock()
	old := g.current
	g.current = make(map[*Member]*Generation)
	b.mu.Unlock()

	for _, gen := range old {
		gen.cancel()
	}
	for _, gen := range old {
		gen.wg.Wait()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	g.genID++
	partitions := make([]int, b.partitions)
	for i := range partitions {
		partitions[i] = i
	}
	for i, m := range g.members {
		ctx, cancel := context.WithCancel(context.Background())
		gen := &Generation{broker: b, group: g, id: g.genID, ctx: ctx, cancel: cancel}
		for _, p := range partitions {
			if p%len(g.members) != i {
				continue
			}
			offset, ok := b.committed[offsetKey{g.id, g.topic, p}]
			if !ok {
				offset = 0
			}
			gen.assignments = append(gen.assignments, domain.PartitionAssignment{Topic: g.topic, Partition: p, Offset: offset})
		}
		sort.Slice(gen.assignments, func(x, y int) bool { return gen.assignments[x].Partition < gen.assignments[y].Partition })
		g.current[m] = gen
	}
	close(g.ready)
	g.ready = make(chan struct{})
}

// Member 消费组成员，实现 domain.ConsumerGroup
type Member struct {
	broker  *Broker
	group   *group
	lastGen int32

	closeOnce sync.Once
	closed    chan struct{}
}

// Next 实现 domain.ConsumerGroup
func (m *Member) Next(ctx context.Context) (domain.Generation, error) {
	for {
		select {
		case <-m.closed:
			return nil, domain.ErrGroupClosed
		default:
		}

		m.broker.mu.Lock()
		gen := m.group.current[m]
		if gen != nil && gen.id > m.lastGen {
			m.lastGen = gen.id
			m.broker.mu.Unlock()
			return gen, nil
		}
		ready := m.group.ready
		m.broker.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closed:
			return nil, domain.ErrGroupClosed
		case <-ready:
		}
	}
}

// Close 离开消费组，其余成员再平衡
func (m *Member) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)

		b := m.broker
		b.mu.Lock()
		members := m.group.members[:0]
		for _, other := range m.group.members {
			if other != m {
				members = append(members, other)
			}
		}
		m.group.members = members
		b.mu.Unlock()

		b.rebalance(m.group)
	})
	return nil
}

// Generation 消费组的一代，实现 domain.Generation
type Generation struct {
	broker      *Broker
	group       *group
	id          int32
	assignments []domain.PartitionAssignment

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ID 实现 domain.Generation
func (g *Generation) ID() int32 { return g.id }

// Assignments 实现 domain.Generation
func (g *Generation) Assignments() []domain.PartitionAssignment {
	return append([]domain.PartitionAssignment(nil), g.assignments...)
}

// Start 实现 domain.Generation
func (g *Generation) Start(fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// OpenReader 实现 domain.Generation
func (g *Generation) OpenReader(a domain.PartitionAssignment) (domain.PartitionReader, error) {
	if a.Partition < 0 || a.Partition >= g.broker.partitions {
		return nil, fmt.Errorf("partition %d out of range", a.Partition)
	}
	return &reader{broker: g.broker, topic: a.Topic, partition: a.Partition, offset: a.Offset}, nil
}

// Commit 实现 domain.Generation
func (g *Generation) Commit(topic string, partition int, nextOffset int64) error {
	if g.ctx.Err() != nil {
		return fmt.Errorf("%w: generation %d ended", domain.ErrRebalanceInProgress, g.id)
	}
	b := g.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed[offsetKey{g.group.id, topic, partition}] = nextOffset
	return nil
}

type reader struct {
	broker    *Broker
	topic     string
	partition int
	offset    int64
}

func (r *reader) Fetch(ctx context.Context) (domain.Message, error) {
	for {
		r.broker.mu.Lock()
		pl := r.broker.topicLocked(r.topic)[r.partition]
		if r.offset < int64(len(pl.messages)) {
			msg := pl.messages[r.offset]
			r.offset++
			r.broker.mu.Unlock()
			return msg, nil
		}
		notify := pl.notify
		r.broker.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		case <-notify:
		}
	}
}

func (r *reader) Close() error { return nil }
