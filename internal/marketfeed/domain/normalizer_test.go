package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
)

var receivedAt = time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)

func TestNormalize_ValidQuotes(t *testing.T) {
	t.Parallel()

	n := domain.NewNormalizer(time.Minute)

	tests := []struct {
		name     string
		raw      domain.RawQuote
		symbol   string
		price    string
		observed time.Time
	}{
		{
			name:     "rfc3339 timestamp",
			raw:      domain.RawQuote{Symbol: "AAPL", Price: "187.45", ObservedAt: "2026-10-14T14:29:59Z", ReceivedAt: receivedAt},
			symbol:   "AAPL",
			price:    "187.45",
			observed: time.Date(2026, 10, 14, 14, 29, 59, 0, time.UTC),
		},
		{
			name:     "lowercase symbol is uppercased",
			raw:      domain.RawQuote{Symbol: " msft ", Price: "402.1", ObservedAt: "2026-10-14T14:29:59.5+00:00", ReceivedAt: receivedAt},
			symbol:   "MSFT",
			price:    "402.1",
			observed: time.Date(2026, 10, 14, 14, 29, 59, 500_000_000, time.UTC),
		},
		{
			name:     "unix millis",
			raw:      domain.RawQuote{Symbol: "TSLA", Price: "250", ObservedAt: "1791988199000", ReceivedAt: receivedAt},
			symbol:   "TSLA",
			price:    "250",
			observed: time.UnixMilli(1791988199000).UTC(),
		},
		{
			name:     "unix nanos",
			raw:      domain.RawQuote{Symbol: "TSLA", Price: "250.01", ObservedAt: "1791988199000000123", ReceivedAt: receivedAt},
			symbol:   "TSLA",
			price:    "250.01",
			observed: time.Unix(0, 1791988199000000123).UTC(),
		},
		{
			name:     "missing timestamp falls back to receipt time",
			raw:      domain.RawQuote{Symbol: "AAPL", Price: "187.45", ReceivedAt: receivedAt},
			symbol:   "AAPL",
			price:    "187.45",
			observed: receivedAt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tick, err := n.Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, tick.Symbol())
			assert.True(t, decimal.RequireFromString(tt.price).Equal(tick.Price()), "price %s", tick.Price())
			assert.True(t, tt.observed.Equal(tick.ObservedAt()), "observedAt %s", tick.ObservedAt())
		})
	}
}

func TestNormalize_Rejections(t *testing.T) {
	t.Parallel()

	n := domain.NewNormalizer(time.Minute)

	tests := []struct {
		name  string
		raw   domain.RawQuote
		field string
	}{
		{name: "empty symbol", raw: domain.RawQuote{Symbol: "  ", Price: "1", ReceivedAt: receivedAt}, field: "symbol"},
		{name: "symbol with spaces", raw: domain.RawQuote{Symbol: "BRK B", Price: "1", ReceivedAt: receivedAt}, field: "symbol"},
		{name: "zero price", raw: domain.RawQuote{Symbol: "AAPL", Price: "0", ReceivedAt: receivedAt}, field: "price"},
		{name: "negative price", raw: domain.RawQuote{Symbol: "AAPL", Price: "-3.2", ReceivedAt: receivedAt}, field: "price"},
		{name: "nan price", raw: domain.RawQuote{Symbol: "AAPL", Price: "NaN", ReceivedAt: receivedAt}, field: "price"},
		{name: "inf price", raw: domain.RawQuote{Symbol: "AAPL", Price: "+Inf", ReceivedAt: receivedAt}, field: "price"},
		{name: "missing price", raw: domain.RawQuote{Symbol: "AAPL", ReceivedAt: receivedAt}, field: "price"},
		{name: "overflowing price", raw: domain.RawQuote{Symbol: "AAPL", Price: "1e400", ReceivedAt: receivedAt}, field: "price"},
		{name: "underflowing price", raw: domain.RawQuote{Symbol: "AAPL", Price: "1e-400", ReceivedAt: receivedAt}, field: "price"},
		{name: "garbage price", raw: domain.RawQuote{Symbol: "AAPL", Price: "12abc", ReceivedAt: receivedAt}, field: "price"},
		{name: "garbage timestamp", raw: domain.RawQuote{Symbol: "AAPL", Price: "1", ObservedAt: "yesterday", ReceivedAt: receivedAt}, field: "observedAt"},
		{name: "fractional epoch beyond int64 nanos", raw: domain.RawQuote{Symbol: "AAPL", Price: "1", ObservedAt: "18446744073.5", ReceivedAt: receivedAt}, field: "observedAt"},
		{name: "fractional epoch one nano past int64", raw: domain.RawQuote{Symbol: "AAPL", Price: "1", ObservedAt: "9223372036.854775808", ReceivedAt: receivedAt}, field: "observedAt"},
		{name: "future timestamp", raw: domain.RawQuote{Symbol: "AAPL", Price: "1", ObservedAt: "2026-10-14T15:30:00Z", ReceivedAt: receivedAt}, field: "observedAt"},
		{name: "no timestamp and no receipt", raw: domain.RawQuote{Symbol: "AAPL", Price: "1"}, field: "observedAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := n.Normalize(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestAdmit_SuppressesUnchangedDedupKey(t *testing.T) {
	t.Parallel()

	n := domain.NewNormalizer(0)
	window := domain.NewFetchWindow("AAPL")
	raw := domain.RawQuote{Symbol: "AAPL", Price: "187.45", ObservedAt: "2026-10-14T14:29:59Z", ReceivedAt: receivedAt}

	first, err := n.Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, n.Admit(first, window))
	window.MarkPublished(first)

	// 数据源重传同一报价
	again, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSuppress, n.Admit(again, window))

	changed, err := n.Normalize(domain.RawQuote{Symbol: "AAPL", Price: "188.00", ObservedAt: "2026-10-14T14:29:59Z", ReceivedAt: receivedAt})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, n.Admit(changed, window))
}

func TestAdmit_RejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	n := domain.NewNormalizer(0)
	window := domain.NewFetchWindow("AAPL")

	later := domain.NewTick("AAPL", decimal.RequireFromString("10"), receivedAt, "")
	window.MarkPublished(later)

	earlier := domain.NewTick("AAPL", decimal.RequireFromString("11"), receivedAt.Add(-time.Second), "")
	assert.Equal(t, domain.DecisionReject, n.Admit(earlier, window))
}

func TestDedupKey(t *testing.T) {
	t.Parallel()

	withSeq := domain.NewTick("AAPL", decimal.RequireFromString("187.45"), receivedAt, "99812")
	assert.Equal(t, "AAPL:99812", withSeq.DedupKey())

	a := domain.NewTick("AAPL", decimal.RequireFromString("187.450"), receivedAt, "")
	b := domain.NewTick("AAPL", decimal.RequireFromString("187.45"), receivedAt.In(time.FixedZone("EST", -5*3600)), "")
	assert.Equal(t, a.DedupKey(), b.DedupKey(), "hash must ignore trailing zeros and zone")
	assert.Contains(t, a.DedupKey(), "h:")

	c := domain.NewTick("AAPL", decimal.RequireFromString("187.46"), receivedAt, "")
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}
