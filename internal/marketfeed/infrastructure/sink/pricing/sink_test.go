package pricing_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/sink/pricing"
	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/logger"
)

var sample = domain.NewTick("AAPL", decimal.RequireFromString("187.45"), time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC), "1490")

func newSink(t *testing.T, handler http.HandlerFunc) *pricing.Sink {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return pricing.New(config.PricingSinkConfig{
		Enabled:         true,
		BaseURL:         srv.URL,
		Timeout:         time.Second,
		RatePerSecond:   1000,
		Burst:           100,
		BreakerFailures: 3,
		BreakerTimeout:  time.Minute,
	}, logger.Discard())
}

func TestHandle_PostsWireTickWithIdempotencyKey(t *testing.T) {
	t.Parallel()

	s := newSink(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/ticks", r.URL.Path)
		assert.Equal(t, "AAPL:1490", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, domain.ContentTypeTickV1, r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var wire map[string]any
		assert.NoError(t, json.Unmarshal(body, &wire))
		assert.Equal(t, "AAPL", wire["symbol"])
		assert.Equal(t, 187.45, wire["price"])
		w.WriteHeader(http.StatusAccepted)
	})

	res := s.Handle(context.Background(), sample)
	assert.Equal(t, domain.SinkSuccess, res.Outcome)
}

func TestHandle_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   domain.SinkOutcome
	}{
		{http.StatusOK, domain.SinkSuccess},
		{http.StatusConflict, domain.SinkSuccess},
		{http.StatusRequestTimeout, domain.SinkRetryable},
		{http.StatusTooEarly, domain.SinkRetryable},
		{http.StatusTooManyRequests, domain.SinkRetryable},
		{http.StatusServiceUnavailable, domain.SinkRetryable},
		{http.StatusBadRequest, domain.SinkFatal},
		{http.StatusUnprocessableEntity, domain.SinkFatal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			s := newSink(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			res := s.Handle(context.Background(), sample)
			assert.Equal(t, tt.want, res.Outcome)
		})
	}
}

func TestHandle_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	s := newSink(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, domain.SinkRetryable, s.Handle(context.Background(), sample).Outcome)
	}
	assert.Equal(t, "open", s.State())

	res := s.Handle(context.Background(), sample)
	assert.Equal(t, domain.SinkRetryable, res.Outcome)
	assert.Equal(t, int32(3), hits.Load(), "open breaker must not reach the server")
}

func TestHandle_FatalDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	s := newSink(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	for i := 0; i < 5; i++ {
		assert.Equal(t, domain.SinkFatal, s.Handle(context.Background(), sample).Outcome)
	}
	assert.Equal(t, "closed", s.State())
}

func TestHandle_TransportErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := pricing.New(config.PricingSinkConfig{BaseURL: url, Timeout: 200 * time.Millisecond}, logger.Discard())
	res := s.Handle(context.Background(), sample)
	assert.Equal(t, domain.SinkRetryable, res.Outcome)
	require.Error(t, res.Err)
}
