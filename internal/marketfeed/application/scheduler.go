package application

import (
	"context"
	"log/slog"
	"time"
)

// CycleRunner 可被调度的一轮工作
type CycleRunner interface {
	RunCycle(ctx context.Context) CycleReport
}

// Scheduler 串行调度采集轮次
// 轮次超过间隔时下一轮在当前轮结束后立即开始，不会并发
type Scheduler struct {
	runner       CycleRunner
	interval     time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger
}

// NewScheduler 创建调度器
func NewScheduler(runner CycleRunner, interval, cycleTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if cycleTimeout <= 0 {
		cycleTimeout = interval
	}
	return &Scheduler{
		runner:       runner,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		logger:       logger,
	}
}

// Run 运行直到 ctx 结束
// 停机请求不会打断进行中的轮次，轮次最长再运行 cycleTimeout
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started", "interval", s.interval, "cycle_timeout", s.cycleTimeout)

	next := time.Now()
	for {
		if wait := time.Until(next); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.InfoContext(ctx, "scheduler stopped")
				return nil
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "scheduler stopped")
			return nil
		}

		start := time.Now()
		s.runOnce(ctx)
		elapsed := time.Since(start)

		next = start.Add(s.interval)
		if elapsed > s.interval {
			s.logger.WarnContext(ctx, "poll cycle overran interval, starting next cycle immediately",
				"elapsed", elapsed,
				"interval", s.interval,
			)
			next = time.Now()
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cycleTimeout)
	defer cancel()
	s.runner.RunCycle(cycleCtx)
}
