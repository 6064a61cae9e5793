package memorybroker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/memorybroker"
)

const topic = "market.ticks"

var t0 = time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)

func record(t *testing.T, symbol string, seq int) domain.PublishRecord {
	t.Helper()
	tick := domain.NewTick(symbol, decimal.RequireFromString("100.25"), t0.Add(time.Duration(seq)*time.Second), fmt.Sprint(seq))
	rec, err := domain.NewPublishRecord(topic, tick)
	require.NoError(t, err)
	return rec
}

func TestWriteRecord_SameSymbolSamePartitionInOrder(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(4)
	for i := 1; i <= 10; i++ {
		require.NoError(t, b.WriteRecord(context.Background(), record(t, "AAPL", i)))
	}

	p := b.PartitionFor("AAPL")
	msgs := b.Messages(topic, p)
	require.Len(t, msgs, 10)
	for i, m := range msgs {
		assert.Equal(t, int64(i), m.Offset)
		assert.Equal(t, fmt.Sprintf("AAPL:%d", i+1), string(m.Key))
		assert.Equal(t, "AAPL", m.Headers["symbol"])
	}
}

func TestWriteRecord_FailureInjection(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(2)
	b.FailNext(2)
	for i := 0; i < 2; i++ {
		err := b.WriteRecord(context.Background(), record(t, "MSFT", 1))
		assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
	}
	require.NoError(t, b.WriteRecord(context.Background(), record(t, "MSFT", 1)))
	assert.Len(t, b.Messages(topic, b.PartitionFor("MSFT")), 1)

	b.LoseNextAcks(1)
	err := b.WriteRecord(context.Background(), record(t, "MSFT", 2))
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
	assert.Len(t, b.Messages(topic, b.PartitionFor("MSFT")), 2, "record is stored even though the ack was lost")
}

func TestConsumerGroup_AssignmentsAndCommit(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(4)
	ctx := context.Background()
	require.NoError(t, b.WriteRecord(ctx, record(t, "AAPL", 1)))

	m := b.JoinGroup("sinks", topic)
	gen, err := m.Next(ctx)
	require.NoError(t, err)
	require.Len(t, gen.Assignments(), 4)

	p := b.PartitionFor("AAPL")
	r, err := gen.OpenReader(gen.Assignments()[p])
	require.NoError(t, err)
	msg, err := r.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AAPL:1", string(msg.Key))

	require.NoError(t, gen.Commit(topic, p, msg.Offset+1))
	off, ok := b.Committed("sinks", topic, p)
	require.True(t, ok)
	assert.Equal(t, int64(1), off)
	require.NoError(t, m.Close())
}

func TestConsumerGroup_RebalanceSplitsPartitionsAndEndsGeneration(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(4)
	ctx := context.Background()

	first := b.JoinGroup("sinks", topic)
	gen1, err := first.Next(ctx)
	require.NoError(t, err)

	stopped := make(chan struct{})
	gen1.Start(func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})

	second := b.JoinGroup("sinks", topic)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("generation was not ended by the rebalance")
	}
	assert.ErrorIs(t, gen1.Commit(topic, 0, 1), domain.ErrRebalanceInProgress)

	gen2a, err := first.Next(ctx)
	require.NoError(t, err)
	gen2b, err := second.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, gen2a.ID(), gen2b.ID())

	owned := map[int]int{}
	for _, a := range append(gen2a.Assignments(), gen2b.Assignments()...) {
		owned[a.Partition]++
	}
	assert.Len(t, owned, 4)
	for p, n := range owned {
		assert.Equalf(t, 1, n, "partition %d must have exactly one owner", p)
	}

	require.NoError(t, second.Close())
	gen3, err := first.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, gen3.Assignments(), 4)

	require.NoError(t, first.Close())
	_, err = first.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrGroupClosed)
}

func TestReader_ResumesFromCommittedOffset(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.WriteRecord(ctx, record(t, "AAPL", i)))
	}

	m := b.JoinGroup("sinks", topic)
	gen, err := m.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, gen.Commit(topic, 0, 2))

	b.Rebalance("sinks")
	gen, err = m.Next(ctx)
	require.NoError(t, err)
	a := gen.Assignments()[0]
	assert.Equal(t, int64(2), a.Offset)

	r, err := gen.OpenReader(a)
	require.NoError(t, err)
	msg, err := r.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AAPL:3", string(msg.Key))
}

func TestReader_FetchBlocksUntilDataOrCancel(t *testing.T) {
	t.Parallel()

	b := memorybroker.New(1)
	m := b.JoinGroup("sinks", topic)
	gen, err := m.Next(context.Background())
	require.NoError(t, err)
	r, err := gen.OpenReader(gen.Assignments()[0])
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec := record(t, "AAPL", 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.WriteRecord(context.Background(), rec)
	}()
	msg, err := r.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AAPL:1", string(msg.Key))
}
