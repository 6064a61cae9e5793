package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain/mock"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/memorybroker"
	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/logger"
	"github.com/wyfcoding/marketfeed/pkg/metrics"
)

const testGroup = "marketfeed-sinks"

func consumerConfig() config.ConsumerConfig {
	return config.ConsumerConfig{
		BatchSize:            10,
		BatchWait:            20 * time.Millisecond,
		MaxBatchRetries:      3,
		BackoffInitial:       time.Millisecond,
		BackoffMax:           5 * time.Millisecond,
		PauseOnFailure:       50 * time.Millisecond,
		MaxConsecutivePoison: 3,
		DrainTimeout:         time.Second,
	}
}

// recordingSink 记录每次 Handle 调用
type recordingSink struct {
	mu    sync.Mutex
	ticks []domain.Tick
	hook  func(ctx context.Context, n int, tick domain.Tick) domain.SinkResult
}

func (r *recordingSink) Handle(ctx context.Context, tick domain.Tick) domain.SinkResult {
	r.mu.Lock()
	r.ticks = append(r.ticks, tick)
	n := len(r.ticks)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		return hook(ctx, n, tick)
	}
	return domain.Success()
}

func (r *recordingSink) handled() []domain.Tick {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Tick(nil), r.ticks...)
}

func writeTicks(t *testing.T, b *memorybroker.Broker, symbol string, from, to int) []domain.Tick {
	t.Helper()
	var ticks []domain.Tick
	for i := from; i <= to; i++ {
		tick := newTick(symbol, fmt.Sprintf("%d.50", 100+i), t0.Add(time.Duration(i)*time.Second), fmt.Sprint(i))
		rec, err := domain.NewPublishRecord(testTopic, tick)
		require.NoError(t, err)
		require.NoError(t, b.WriteRecord(context.Background(), rec))
		ticks = append(ticks, tick)
	}
	return ticks
}

type running struct {
	sub  *Subscriber
	done chan error
}

func startSubscriber(t *testing.T, b *memorybroker.Broker, sink domain.Sink, cfg config.ConsumerConfig) *running {
	t.Helper()
	sub := NewSubscriber(b.JoinGroup(testGroup, testTopic), sink, b, cfg, testGroup, metrics.Nop(), logger.Discard())
	r := &running{sub: sub, done: make(chan error, 1)}
	go func() { r.done <- sub.Run(context.Background()) }()
	t.Cleanup(func() { r.stop(t) })
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.sub.Stop(ctx)
	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("subscriber did not exit")
	}
}

func waitCommitted(t *testing.T, b *memorybroker.Broker, partition int, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		off, ok := b.Committed(testGroup, testTopic, partition)
		return ok && off == want
	}, 3*time.Second, 5*time.Millisecond, "partition %d never committed %d", partition, want)
}

// waitAllCommitted 等待每个非空分区提交到日志末尾，空分区没有可提交的批次
func waitAllCommitted(t *testing.T, b *memorybroker.Broker) {
	t.Helper()
	for p := 0; p < b.Partitions(); p++ {
		if n := len(b.Messages(testTopic, p)); n > 0 {
			waitCommitted(t, b, p, int64(n))
		}
	}
}

func TestSubscriber_CommitsAfterBatchInPerKeyOrder(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(4)
	var want []domain.Tick
	for _, sym := range []string{"AAPL", "MSFT", "GOOG"} {
		want = append(want, writeTicks(t, b, sym, 1, 15)...)
	}

	sink := &recordingSink{}
	r := startSubscriber(t, b, sink, consumerConfig())

	waitAllCommitted(t, b)
	assert.Len(t, sink.handled(), len(want))
	for p := 0; p < b.Partitions(); p++ {
		if len(b.Messages(testTopic, p)) == 0 {
			_, ok := b.Committed(testGroup, testTopic, p)
			assert.False(t, ok, "empty partition %d must not be committed", p)
		}
	}

	last := map[string]time.Time{}
	for _, tick := range sink.handled() {
		prev, ok := last[tick.Symbol()]
		if ok {
			assert.True(t, tick.ObservedAt().After(prev), "ticks for %s delivered out of order", tick.Symbol())
		}
		last[tick.Symbol()] = tick.ObservedAt()
	}

	st := r.sub.Status()
	assert.Equal(t, StateConsuming.String(), st.State)
	assert.Len(t, st.Partitions, 4)
}

func TestSubscriber_CrashBeforeCommitRedelivers(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	ticks := writeTicks(t, b, "AAPL", 1, 5)

	cfg := consumerConfig()
	cfg.BatchSize = 5
	blocked := make(chan struct{})
	first := &recordingSink{hook: func(ctx context.Context, n int, _ domain.Tick) domain.SinkResult {
		if n == 5 {
			close(blocked)
			<-ctx.Done()
		}
		return domain.Success()
	}}

	sub1 := NewSubscriber(b.JoinGroup(testGroup, testTopic), first, b, cfg, testGroup, metrics.Nop(), logger.Discard())
	done := make(chan error, 1)
	go func() { done <- sub1.Run(context.Background()) }()

	<-blocked
	expired, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-expired.Done()
	err := sub1.Stop(expired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, <-done)

	_, committed := b.Committed(testGroup, testTopic, 0)
	assert.False(t, committed, "a discarded batch must not be committed")

	second := &recordingSink{}
	startSubscriber(t, b, second, cfg)
	waitCommitted(t, b, 0, 5)

	redelivered := second.handled()
	require.Len(t, redelivered, 5)
	for i, tick := range redelivered {
		assert.True(t, tick.Equal(ticks[i]))
	}
}

func TestSubscriber_PoisonMessagesHaltPartition(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	for i := 0; i < 3; i++ {
		b.Append(testTopic, 0, []byte(fmt.Sprintf("bad-%d", i)), []byte(`{"symbol":"AAPL","price":"x"}`))
	}
	good := writeTicks(t, b, "AAPL", 4, 4)

	ctrl := gomock.NewController(t)
	sink := mock.NewMockSink(ctrl)
	handled := make(chan domain.Tick, 1)
	sink.EXPECT().Handle(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, tick domain.Tick) domain.SinkResult {
		handled <- tick
		return domain.Success()
	}).Times(1)

	r := startSubscriber(t, b, sink, consumerConfig())
	waitCommitted(t, b, 0, 3)

	require.Eventually(t, func() bool {
		st := r.sub.Status()
		return len(st.Partitions) == 1 && st.Partitions[0].Halted
	}, 2*time.Second, 5*time.Millisecond)

	dls := b.DeadLetters()
	require.Len(t, dls, 3)
	for i, dl := range dls {
		assert.Equal(t, domain.DeadLetterPoison, dl.Reason)
		assert.Equal(t, int64(i), dl.Offset)
		assert.Equal(t, testGroup, dl.GroupID)
		assert.NotEmpty(t, dl.ID)
	}

	select {
	case <-handled:
		t.Fatal("halted partition must not be read")
	case <-time.After(50 * time.Millisecond):
	}

	// 重新分配后从毒消息之后继续
	b.Rebalance(testGroup)
	select {
	case tick := <-handled:
		assert.True(t, tick.Equal(good[0]))
	case <-time.After(2 * time.Second):
		t.Fatal("reassigned partition did not resume")
	}
	waitCommitted(t, b, 0, 4)
}

func TestSubscriber_FatalGoesToDeadLetterAndBatchProceeds(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	writeTicks(t, b, "AAPL", 1, 2)

	ctrl := gomock.NewController(t)
	sink := mock.NewMockSink(ctrl)
	gomock.InOrder(
		sink.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(domain.Fatal(errors.New("rejected by pricing engine"))),
		sink.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(domain.Success()),
	)

	startSubscriber(t, b, sink, consumerConfig())
	waitCommitted(t, b, 0, 2)

	dls := b.DeadLetters()
	require.Len(t, dls, 1)
	assert.Equal(t, domain.DeadLetterFatal, dls[0].Reason)
	assert.Equal(t, "AAPL:1", dls[0].Key)
	assert.Equal(t, "rejected by pricing engine", dls[0].Error)
}

func TestSubscriber_RetryableIsRetriedWithoutCommit(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	writeTicks(t, b, "AAPL", 1, 1)

	ctrl := gomock.NewController(t)
	sink := mock.NewMockSink(ctrl)
	gomock.InOrder(
		sink.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(domain.Retryable(errors.New("redis down"))).Times(2),
		sink.EXPECT().Handle(gomock.Any(), gomock.Any()).Return(domain.Success()),
	)

	startSubscriber(t, b, sink, consumerConfig())
	waitCommitted(t, b, 0, 1)
	assert.Empty(t, b.DeadLetters())
}

func TestSubscriber_PausesAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	writeTicks(t, b, "AAPL", 1, 1)

	cfg := consumerConfig()
	cfg.MaxBatchRetries = 1
	cfg.PauseOnFailure = 80 * time.Millisecond

	sink := &recordingSink{hook: func(_ context.Context, n int, _ domain.Tick) domain.SinkResult {
		if n <= 2 {
			return domain.Retryable(errors.New("pricing engine unavailable"))
		}
		return domain.Success()
	}}

	r := startSubscriber(t, b, sink, cfg)
	require.Eventually(t, func() bool {
		st := r.sub.Status()
		return len(st.Partitions) == 1 && st.Partitions[0].Paused
	}, 2*time.Second, 2*time.Millisecond)
	waitCommitted(t, b, 0, 1)

	handled := sink.handled()
	require.Len(t, handled, 3)
}

func TestSubscriber_GracefulStopCommitsInFlightBatch(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	writeTicks(t, b, "AAPL", 1, 3)

	started := make(chan struct{})
	release := make(chan struct{})
	sink := &recordingSink{hook: func(_ context.Context, n int, _ domain.Tick) domain.SinkResult {
		if n == 1 {
			close(started)
			<-release
		}
		return domain.Success()
	}}

	sub := NewSubscriber(b.JoinGroup(testGroup, testTopic), sink, b, consumerConfig(), testGroup, metrics.Nop(), logger.Discard())
	done := make(chan error, 1)
	go func() { done <- sub.Run(context.Background()) }()

	<-started
	stopped := make(chan error, 1)
	go func() { stopped <- sub.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return sub.State() == StateClosing }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, sub.State())

	off, ok := b.Committed(testGroup, testTopic, 0)
	require.True(t, ok)
	assert.Equal(t, int64(3), off)
}

func TestSubscriber_RebalanceResumesFromCommittedOffset(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(4)
	symbols := []string{"AAPL", "MSFT", "GOOG", "AMZN", "NVDA", "TSLA"}
	for _, sym := range symbols {
		writeTicks(t, b, sym, 1, 5)
	}

	firstSink := &recordingSink{}
	startSubscriber(t, b, firstSink, consumerConfig())
	waitAllCommitted(t, b)

	secondSink := &recordingSink{}
	r2 := startSubscriber(t, b, secondSink, consumerConfig())
	require.Eventually(t, func() bool { return r2.sub.State() == StateConsuming }, 2*time.Second, 5*time.Millisecond)

	for _, sym := range symbols {
		writeTicks(t, b, sym, 6, 10)
	}
	waitAllCommitted(t, b)

	seen := map[string]int{}
	for _, tick := range append(firstSink.handled(), secondSink.handled()...) {
		seen[tick.DedupKey()]++
	}
	assert.Len(t, seen, len(symbols)*10)
	for key, n := range seen {
		assert.Equal(t, 1, n, "%s handled more than once", key)
	}
	st := r2.sub.Status()
	assert.NotEmpty(t, st.Partitions)
	assert.Less(t, len(st.Partitions), 4, "partitions are shared between members")
}

// brokenReaderGroup 每一代都返回持续报错的读取器
type brokenReaderGroup struct {
	domain.ConsumerGroup
	fetches *atomic.Int64
}

func (g brokenReaderGroup) Next(ctx context.Context) (domain.Generation, error) {
	gen, err := g.ConsumerGroup.Next(ctx)
	if err != nil {
		return nil, err
	}
	return brokenReaderGen{Generation: gen, fetches: g.fetches}, nil
}

type brokenReaderGen struct {
	domain.Generation
	fetches *atomic.Int64
}

func (g brokenReaderGen) OpenReader(domain.PartitionAssignment) (domain.PartitionReader, error) {
	return closedReader{fetches: g.fetches}, nil
}

type closedReader struct{ fetches *atomic.Int64 }

func (r closedReader) Fetch(context.Context) (domain.Message, error) {
	r.fetches.Add(1)
	return domain.Message{}, io.EOF
}

func (r closedReader) Close() error { return nil }

func TestSubscriber_BacksOffOnFetchErrors(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	cfg := consumerConfig()
	cfg.BackoffInitial = 20 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond

	var fetches atomic.Int64
	group := brokenReaderGroup{ConsumerGroup: b.JoinGroup(testGroup, testTopic), fetches: &fetches}
	sub := NewSubscriber(group, &recordingSink{}, b, cfg, testGroup, metrics.Nop(), logger.Discard())
	r := &running{sub: sub, done: make(chan error, 1)}
	go func() { r.done <- sub.Run(context.Background()) }()

	require.Eventually(t, func() bool { return fetches.Load() > 0 }, time.Second, time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	r.stop(t)

	assert.LessOrEqual(t, fetches.Load(), int64(30), "a failing reader must not be polled in a hot loop")
	st := sub.Status()
	require.Len(t, st.Partitions, 1)
	assert.Equal(t, io.EOF.Error(), st.Partitions[0].LastError)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "joining", StateJoining.String())
	assert.Equal(t, "rebalancing", StateRebalancing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
