// Package fanout 将一个 Tick 依次交给多个下游并合并结果
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
)

// NamedSink 带名称的下游
type NamedSink interface {
	domain.Sink
	Name() string
}

// Sink 组合下游，实现 domain.Sink
// 任一下游可重试则整体可重试，否则任一下游失败则整体失败
// 各下游按去重键幂等，重试时已成功的下游不会产生重复效果
type Sink struct {
	sinks  []NamedSink
	logger *slog.Logger
}

// New 创建组合下游
func New(logger *slog.Logger, sinks ...NamedSink) *Sink {
	return &Sink{sinks: sinks, logger: logger}
}

// Names 下游名称列表
func (s *Sink) Names() []string {
	names := make([]string, 0, len(s.sinks))
	for _, sink := range s.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// Handle 实现 domain.Sink
func (s *Sink) Handle(ctx context.Context, tick domain.Tick) domain.SinkResult {
	worst := domain.Success()
	var errs []error
	for _, sink := range s.sinks {
		res := sink.Handle(ctx, tick)
		if res.Outcome == domain.SinkSuccess {
			continue
		}
		s.logger.WarnContext(ctx, "sink failed",
			"sink", sink.Name(),
			"outcome", res.Outcome.String(),
			"dedup_key", tick.DedupKey(),
			"error", res.Err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), res.Err))
		if res.Outcome == domain.SinkRetryable || worst.Outcome == domain.SinkSuccess {
			worst.Outcome = res.Outcome
		}
	}
	if len(errs) > 0 {
		worst.Err = errors.Join(errs...)
	}
	return worst
}
