package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/application"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	httpapi "github.com/wyfcoding/marketfeed/internal/marketfeed/interfaces/http"
	"github.com/wyfcoding/marketfeed/pkg/logger"
	"github.com/wyfcoding/marketfeed/pkg/metrics"
)

type fakeSubscriber struct {
	state  application.State
	status application.SubscriberStatus
}

func (f fakeSubscriber) State() application.State { return f.state }
func (f fakeSubscriber) Status() application.SubscriberStatus { return f.status }

type fakeBroker bool

func (f fakeBroker) Unavailable() bool { return bool(f) }

type fakeLatest map[string]domain.Tick

func (f fakeLatest) Latest(_ context.Context, symbol string) (domain.Tick, bool, error) {
	if symbol == "ERR" {
		return domain.Tick{}, false, errors.New("redis: connection refused")
	}
	t, ok := f[symbol]
	return t, ok, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(opts httpapi.Options) *gin.Engine {
	r := gin.New()
	httpapi.NewHandler(opts, logger.Discard()).RegisterRoutes(r)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	w := get(newRouter(httpapi.Options{Service: "marketfeed"}), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"marketfeed"}`, w.Body.String())
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name string
		opts httpapi.Options
		want int
	}{
		{"no dependencies", httpapi.Options{}, http.StatusOK},
		{"consuming", httpapi.Options{Subscriber: fakeSubscriber{state: application.StateConsuming}}, http.StatusOK},
		{"rebalancing", httpapi.Options{Subscriber: fakeSubscriber{state: application.StateRebalancing}}, http.StatusServiceUnavailable},
		{"broker unavailable", httpapi.Options{Publisher: fakeBroker(true)}, http.StatusServiceUnavailable},
		{"failing check", httpapi.Options{Checks: map[string]httpapi.Check{
			"redis": func(context.Context) error { return errors.New("dial tcp: connection refused") },
		}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(newRouter(tt.opts), "/readyz")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGetStatus(t *testing.T) {
	sub := fakeSubscriber{
		state:  application.StateConsuming,
		status: application.SubscriberStatus{
			GroupID: "marketfeed-sinks",
			State:   "consuming",
			Partitions: []application.PartitionStatus{
				{Topic: "market.ticks", Partition: 0, Committed: 12},
				{Topic: "market.ticks", Partition: 1, Committed: 3, Halted: true},
			},
		},
	}
	w := get(newRouter(httpapi.Options{Service: "marketfeed", Subscriber: sub, Publisher: fakeBroker(false)}), "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Subscriber        application.SubscriberStatus `json:"subscriber"`
		HaltedPartitions  []int                        `json:"halted_partitions"`
		BrokerUnavailable bool                         `json:"broker_unavailable"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "marketfeed-sinks", body.Subscriber.GroupID)
	assert.Equal(t, []int{1}, body.HaltedPartitions)
	assert.False(t, body.BrokerUnavailable)
}

func TestGetLatestTick(t *testing.T) {
	tick := domain.NewTick("AAPL", decimal.RequireFromString("187.45"), time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC), "1490")
	r := newRouter(httpapi.Options{Latest: fakeLatest{"AAPL": tick}})

	w := get(r, "/api/v1/ticks/latest?symbol=AAPL")
	require.Equal(t, http.StatusOK, w.Code)
	decoded, err := domain.DecodeTick(w.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, decoded.Equal(tick))

	assert.Equal(t, http.StatusBadRequest, get(r, "/api/v1/ticks/latest").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/v1/ticks/latest?symbol=MSFT").Code)
	assert.Equal(t, http.StatusInternalServerError, get(r, "/api/v1/ticks/latest?symbol=ERR").Code)

	noCache := newRouter(httpapi.Options{})
	assert.Equal(t, http.StatusServiceUnavailable, get(noCache, "/api/v1/ticks/latest?symbol=AAPL").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("marketfeed")
	m.TicksPublished.WithLabelValues("ok").Inc()

	w := get(newRouter(httpapi.Options{Metrics: m.Handler()}), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `marketfeed_publisher_ticks_total{result="ok"} 1`)
}
