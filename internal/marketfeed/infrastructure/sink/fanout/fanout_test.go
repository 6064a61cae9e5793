package fanout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain/mock"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/sink/fanout"
	"github.com/wyfcoding/marketfeed/pkg/logger"
)

type named struct {
	*mock.MockSink
	name string
}

func (n named) Name() string { return n.name }

var sample = domain.NewTick("AAPL", decimal.RequireFromString("187.45"), time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC), "1")

func TestHandle_CombinesOutcomes(t *testing.T) {
	t.Parallel()

	errDown := errors.New("down")
	tests := []struct {
		name    string
		results []domain.SinkResult
		want    domain.SinkOutcome
	}{
		{"all succeed", []domain.SinkResult{domain.Success(), domain.Success()}, domain.SinkSuccess},
		{"one fatal", []domain.SinkResult{domain.Success(), domain.Fatal(errDown)}, domain.SinkFatal},
		{"one retryable", []domain.SinkResult{domain.Retryable(errDown), domain.Success()}, domain.SinkRetryable},
		{"retryable beats fatal", []domain.SinkResult{domain.Fatal(errDown), domain.Retryable(errDown)}, domain.SinkRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			var sinks []fanout.NamedSink
			for i, res := range tt.results {
				m := mock.NewMockSink(ctrl)
				m.EXPECT().Handle(gomock.Any(), sample).Return(res).Times(1)
				sinks = append(sinks, named{MockSink: m, name: []string{"cache", "pricing"}[i]})
			}

			res := fanout.New(logger.Discard(), sinks...).Handle(context.Background(), sample)
			assert.Equal(t, tt.want, res.Outcome)
			if tt.want != domain.SinkSuccess {
				assert.ErrorIs(t, res.Err, errDown)
			}
		})
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	s := fanout.New(logger.Discard(),
		named{MockSink: mock.NewMockSink(ctrl), name: "cache"},
		named{MockSink: mock.NewMockSink(ctrl), name: "pricing"},
	)
	assert.Equal(t, []string{"cache", "pricing"}, s.Names())
}
