package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/metrics"
	"github.com/wyfcoding/marketfeed/pkg/retry"
)

// State 订阅者状态
type State int32

const (
	StateJoining State = iota
	StateAssigned
	StateConsuming
	StateRebalancing
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateAssigned:
		return "assigned"
	case StateConsuming:
		return "consuming"
	case StateRebalancing:
		return "rebalancing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PartitionStatus 分区消费状态
type PartitionStatus struct {
	Topic      string `json:"topic"`
	Partition  int    `json:"partition"`
	Generation int32  `json:"generation"`
	// 下一条待读 offset，-1 表示本代尚未提交
	Committed int64  `json:"committed"`
	Processed int64  `json:"processed"`
	Halted    bool   `json:"halted"`
	Paused    bool   `json:"paused"`
	LastError string `json:"last_error,omitempty"`
}

// SubscriberStatus 订阅者状态快照
type SubscriberStatus struct {
	InstanceID string            `json:"instance_id"`
	GroupID    string            `json:"group_id"`
	State      string            `json:"state"`
	Generation int32             `json:"generation"`
	Partitions []PartitionStatus `json:"partitions"`
}

var (
	errBatchDiscarded = errors.New("batch discarded")
	errHalted         = errors.New("partition halted")
)

// Subscriber 消费组成员，每个分配到的分区一个工作协程
// 批次全部交给 Sink 处理后才提交 lastOffset+1
type Subscriber struct {
	group      domain.ConsumerGroup
	sink       domain.Sink
	dlq        domain.DeadLetterWriter
	cfg        config.ConsumerConfig
	policy     retry.Policy
	groupID    string
	instanceID string
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	state atomic.Int32

	// stopCtx 在 Stop 时取消：工作协程处理完当前批次后退出
	stopCtx    context.Context
	stopCancel context.CancelFunc
	// forceCtx 在排空超时后取消：丢弃进行中的批次
	forceCtx    context.Context
	forceCancel context.CancelFunc
	stopOnce    sync.Once
	stopErr     error

	mu         sync.Mutex
	workers    sync.WaitGroup
	generation int32
	partitions map[int]*PartitionStatus
}

// NewSubscriber 创建订阅者
func NewSubscriber(group domain.ConsumerGroup, sink domain.Sink, dlq domain.DeadLetterWriter, cfg config.ConsumerConfig, groupID string, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	instanceID := uuid.NewString()
	stopCtx, stopCancel := context.WithCancel(context.Background())
	forceCtx, forceCancel := context.WithCancel(context.Background())
	return &Subscriber{
		group: group,
		sink:  sink,
		dlq:   dlq,
		cfg:   cfg,
		policy: retry.Policy{
			MaxRetries: cfg.MaxBatchRetries,
			Initial:    cfg.BackoffInitial,
			Max:        cfg.BackoffMax,
		},
		groupID:     groupID,
		instanceID:  instanceID,
		metrics:     m,
		logger:      logger.With("group_id", groupID, "instance_id", instanceID),
		now:         time.Now,
		stopCtx:     stopCtx,
		stopCancel:  stopCancel,
		forceCtx:    forceCtx,
		forceCancel: forceCancel,
		partitions:  make(map[int]*PartitionStatus),
	}
}

// State 当前状态
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	s.metrics.ConsumerState.Set(float64(st))
	if prev != st {
		s.logger.Debug("subscriber state changed", "from", prev.String(), "to", st.String())
	}
}

// Run 加入消费组并消费，直到组关闭
// ctx 结束时按 consumer.drain_timeout 优雅停止
func (s *Subscriber) Run(ctx context.Context) error {
	s.setState(StateJoining)
	s.logger.InfoContext(ctx, "subscriber joining group")

	stopOnCancel := context.AfterFunc(ctx, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
		defer cancel()
		if err := s.Stop(drainCtx); err != nil {
			s.logger.Warn("subscriber stop incomplete", "error", err)
		}
	})
	defer stopOnCancel()

	bo := s.policy.NewBackOff()
	for {
		gen, err := s.group.Next(s.forceCtx)
		if err != nil {
			if errors.Is(err, domain.ErrGroupClosed) || s.forceCtx.Err() != nil {
				s.workers.Wait()
				// 等待 Stop 完成离组
				_ = s.Stop(context.Background())
				s.setState(StateClosed)
				s.logger.Info("subscriber closed")
				return nil
			}
			wait := bo.NextBackOff()
			s.logger.Warn("failed to join next generation, retrying", "retry_in", wait, "error", err)
			_ = sleepCtx(s.forceCtx, wait)
			continue
		}
		bo.Reset()
		s.startGeneration(gen)
	}
}

func (s *Subscriber) startGeneration(gen domain.Generation) {
	assignments := gen.Assignments()

	s.mu.Lock()
	if s.stopCtx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.generation = gen.ID()
	s.partitions = make(map[int]*PartitionStatus, len(assignments))
	for _, a := range assignments {
		s.partitions[a.Partition] = &PartitionStatus{
			Topic:      a.Topic,
			Partition:  a.Partition,
			Generation: gen.ID(),
			Committed:  -1,
		}
	}
	s.workers.Add(len(assignments))
	s.mu.Unlock()

	s.setState(StateAssigned)
	s.metrics.PartitionsAssigned.Set(float64(len(assignments)))
	s.metrics.PartitionsHalted.Set(0)
	s.logger.Info("partitions assigned", "generation", gen.ID(), "partitions", partitionIDs(assignments))

	for _, a := range assignments {
		gen.Start(func(genCtx context.Context) {
			defer s.workers.Done()
			s.consume(genCtx, gen, a)
		})
	}
	// 本代结束时（且不是主动停止）进入再平衡
	gen.Start(func(genCtx context.Context) {
		<-genCtx.Done()
		if s.stopCtx.Err() == nil {
			s.setState(StateRebalancing)
			s.logger.Info("generation ended, rebalancing", "generation", gen.ID())
		}
	})
	s.setState(StateConsuming)
}

// Stop 停止消费：各分区处理完当前批次并提交后离开消费组
// ctx 结束前未排空的批次被丢弃，由下一个所有者重新投递
func (s *Subscriber) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopCancel()
		s.mu.Unlock()
		s.setState(StateClosing)
		s.logger.Info("subscriber stopping, draining in-flight batches")

		drained := make(chan struct{})
		go func() {
			s.workers.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			s.stopErr = fmt.Errorf("drain timed out, in-flight batches discarded: %w", ctx.Err())
			s.logger.Warn("drain timeout reached, cancelling in-flight batches")
			s.forceCancel()
			<-drained
		}

		if err := s.group.Close(); err != nil {
			s.stopErr = errors.Join(s.stopErr, fmt.Errorf("leave group: %w", err))
		}
		s.forceCancel()
	})
	return s.stopErr
}

// Status 状态快照
func (s *Subscriber) Status() SubscriberStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SubscriberStatus{
		InstanceID: s.instanceID,
		GroupID:    s.groupID,
		State:      s.State().String(),
		Generation: s.generation,
		Partitions: make([]PartitionStatus, 0, len(s.partitions)),
	}
	for _, p := range s.partitions {
		st.Partitions = append(st.Partitions, *p)
	}
	sort.Slice(st.Partitions, func(i, j int) bool { return st.Partitions[i].Partition < st.Partitions[j].Partition })
	return st
}

func (s *Subscriber) updatePartition(partition int, fn func(p *PartitionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[partition]; ok {
		fn(p)
	}
}

func (s *Subscriber) haltedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.partitions {
		if p.Halted {
			n++
		}
	}
	return n
}

// partitionWorker 单个分区在一代内的消费状态
type partitionWorker struct {
	s          *Subscriber
	gen        domain.Generation
	assignment domain.PartitionAssignment
	reader     domain.PartitionReader
	logger     *slog.Logger
	backoff    *backoff.ExponentialBackOff

	consecutivePoison int
}

func (s *Subscriber) consume(genCtx context.Context, gen domain.Generation, a domain.PartitionAssignment) {
	ctx, cancel := context.WithCancel(genCtx)
	defer cancel()
	stopForce := context.AfterFunc(s.forceCtx, cancel)
	defer stopForce()

	log := s.logger.With("topic", a.Topic, "partition", a.Partition, "generation", gen.ID())
	reader, err := gen.OpenReader(a)
	if err != nil {
		log.ErrorContext(ctx, "failed to open partition reader", "offset", a.Offset, "error", err)
		s.updatePartition(a.Partition, func(p *PartitionStatus) { p.LastError = err.Error() })
		return
	}
	defer reader.Close()

	w := &partitionWorker{
		s:          s,
		gen:        gen,
		assignment: a,
		reader:     reader,
		logger:     log,
		backoff:    s.policy.NewBackOff(),
	}
	log.InfoContext(ctx, "partition worker started", "offset", a.Offset)

	for {
		if ctx.Err() != nil {
			log.InfoContext(ctx, "partition revoked")
			return
		}
		if s.stopCtx.Err() != nil {
			log.InfoContext(ctx, "partition worker stopped")
			return
		}

		batch, err := w.pull(ctx)
		if len(batch) == 0 {
			if err != nil {
				w.fetchBackoff(ctx, err)
			}
			continue
		}
		switch err := w.process(ctx, batch); {
		case err == nil:
		case errors.Is(err, errHalted):
			w.waitHalted(ctx)
			return
		default:
			return
		}
	}
}

// pull 拉取一批记录：最多 batch_size 条，或等待 batch_wait 后返回已有记录
// 读取器本身出错（而非等待超时）时返回该错误
func (w *partitionWorker) pull(ctx context.Context) ([]domain.Message, error) {
	cfg := w.s.cfg
	pullCtx, cancel := context.WithTimeout(ctx, cfg.BatchWait)
	defer cancel()
	stop := context.AfterFunc(w.s.stopCtx, cancel)
	defer stop()

	batch := make([]domain.Message, 0, cfg.BatchSize)
	for len(batch) < cfg.BatchSize {
		msg, err := w.reader.Fetch(pullCtx)
		if err != nil {
			if pullCtx.Err() == nil {
				return batch, err
			}
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// fetchBackoff 读取失败后退避，停止或本代结束时提前返回
func (w *partitionWorker) fetchBackoff(ctx context.Context, cause error) {
	wait := w.backoff.NextBackOff()
	w.logger.WarnContext(ctx, "fetch failed, backing off", "retry_in", wait, "error", cause)
	w.s.updatePartition(w.assignment.Partition, func(p *PartitionStatus) { p.LastError = cause.Error() })

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.s.stopCtx, cancel)
	defer stop()
	_ = sleepCtx(waitCtx, wait)
}

// process 依次处理批次并在全部完成后提交
// 可重试失败从失败的记录处原地重试，不提交
func (w *partitionWorker) process(ctx context.Context, batch []domain.Message) error {
	s := w.s
	attempt := 0
	w.backoff.Reset()

	for i := 0; i < len(batch); {
		if ctx.Err() != nil {
			return w.discard(ctx, "generation ended mid-batch")
		}
		msg := batch[i]

		tick, err := domain.DecodeTick(msg.Value)
		if err != nil {
			s.metrics.TicksConsumed.WithLabelValues("poison").Inc()
			if dlErr := w.deadLetter(ctx, msg, domain.DeadLetterPoison, err); dlErr != nil {
				if werr := w.retryWait(ctx, &attempt, dlErr); werr != nil {
					return werr
				}
				continue
			}
			w.consecutivePoison++
			i++
			if w.consecutivePoison >= s.cfg.MaxConsecutivePoison {
				return w.halt(ctx, msg)
			}
			continue
		}

		res := s.sink.Handle(ctx, tick)
		s.metrics.TicksConsumed.WithLabelValues(res.Outcome.String()).Inc()
		switch res.Outcome {
		case domain.SinkSuccess:
			w.consecutivePoison = 0
			attempt = 0
			i++
		case domain.SinkFatal:
			if dlErr := w.deadLetter(ctx, msg, domain.DeadLetterFatal, res.Err); dlErr != nil {
				if werr := w.retryWait(ctx, &attempt, dlErr); werr != nil {
					return werr
				}
				continue
			}
			w.consecutivePoison = 0
			attempt = 0
			i++
		default:
			if werr := w.retryWait(ctx, &attempt, res.Err); werr != nil {
				return werr
			}
		}
	}

	last := batch[len(batch)-1]
	s.updatePartition(w.assignment.Partition, func(p *PartitionStatus) { p.Processed += int64(len(batch)) })
	return w.commit(ctx, last.Offset+1)
}

// retryWait 可重试失败后的等待：先指数退避，耗尽后暂停分区并告警，然后重新开始计数
func (w *partitionWorker) retryWait(ctx context.Context, attempt *int, cause error) error {
	s := w.s
	*attempt++
	partition := w.assignment.Partition

	if *attempt > s.cfg.MaxBatchRetries {
		w.logger.ErrorContext(ctx, "batch retries exhausted, pausing partition",
			"attempts", *attempt,
			"pause", s.cfg.PauseOnFailure,
			"error", cause,
		)
		s.updatePartition(partition, func(p *PartitionStatus) {
			p.Paused = true
			p.LastError = errString(cause)
		})
		err := sleepCtx(ctx, s.cfg.PauseOnFailure)
		s.updatePartition(partition, func(p *PartitionStatus) { p.Paused = false })
		if err != nil {
			return w.discard(ctx, "generation ended while paused")
		}
		*attempt = 0
		w.backoff.Reset()
		return nil
	}

	wait := w.backoff.NextBackOff()
	w.logger.WarnContext(ctx, "sink failed, retrying batch", "attempt", *attempt, "retry_in", wait, "error", cause)
	s.updatePartition(partition, func(p *PartitionStatus) { p.LastError = errString(cause) })
	if err := sleepCtx(ctx, wait); err != nil {
		return w.discard(ctx, "generation ended during backoff")
	}
	return nil
}

func (w *partitionWorker) commit(ctx context.Context, next int64) error {
	s := w.s
	if ctx.Err() != nil {
		return w.discard(ctx, "generation ended before commit")
	}
	if err := w.gen.Commit(w.assignment.Topic, w.assignment.Partition, next); err != nil {
		if errors.Is(err, domain.ErrRebalanceInProgress) {
			return w.discard(ctx, "commit rejected by rebalance")
		}
		// 提交是累积的，下一批次的提交会覆盖本次
		w.logger.WarnContext(ctx, "commit failed", "offset", next, "error", err)
		s.metrics.BatchCommits.WithLabelValues("failed").Inc()
		s.updatePartition(w.assignment.Partition, func(p *PartitionStatus) { p.LastError = err.Error() })
		return nil
	}
	s.metrics.BatchCommits.WithLabelValues("committed").Inc()
	s.updatePartition(w.assignment.Partition, func(p *PartitionStatus) {
		p.Committed = next
		p.LastError = ""
	})
	w.logger.DebugContext(ctx, "batch committed", "offset", next)
	return nil
}

func (w *partitionWorker) discard(ctx context.Context, reason string) error {
	w.s.metrics.BatchCommits.WithLabelValues("discarded").Inc()
	w.logger.InfoContext(ctx, "uncommitted batch discarded", "reason", reason)
	return errBatchDiscarded
}

// halt 连续毒消息达到上限：提交到最后一条毒消息之后并停止读取该分区，直到重新分配
func (w *partitionWorker) halt(ctx context.Context, last domain.Message) error {
	s := w.s
	if err := w.commit(ctx, last.Offset+1); err != nil {
		return err
	}
	s.updatePartition(w.assignment.Partition, func(p *PartitionStatus) {
		p.Halted = true
		p.LastError = fmt.Sprintf("%d consecutive poison messages", w.consecutivePoison)
	})
	s.metrics.PartitionsHalted.Set(float64(s.haltedCount()))
	w.logger.ErrorContext(ctx, "partition halted after consecutive poison messages",
		"count", w.consecutivePoison,
		"last_offset", last.Offset,
	)
	return errHalted
}

func (w *partitionWorker) waitHalted(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-w.s.stopCtx.Done():
	}
}

func (w *partitionWorker) deadLetter(ctx context.Context, msg domain.Message, reason string, cause error) error {
	s := w.s
	dl := domain.DeadLetter{
		ID:        uuid.NewString(),
		Reason:    reason,
		Error:     errString(cause),
		GroupID:   s.groupID,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     string(msg.Value),
		FailedAt:  s.now().UTC(),
	}
	if err := s.dlq.Send(ctx, dl); err != nil {
		w.logger.ErrorContext(ctx, "dead-letter write failed", "offset", msg.Offset, "reason", reason, "error", err)
		return err
	}
	s.metrics.DeadLetters.WithLabelValues(reason).Inc()
	return nil
}

func partitionIDs(assignments []domain.PartitionAssignment) []int {
	ids := make([]int, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.Partition)
	}
	return ids
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
