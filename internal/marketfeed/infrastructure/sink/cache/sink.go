// Package cache 实现 Redis 下游：最新 Tick 缓存与看板发布通道
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/pkg/config"
)

// Name 下游名称
const Name = "cache"

// applyScript 原子地完成去重、更新最新值与发布
// KEYS[1] 去重标记（按消费组隔离），KEYS[2] 最新 Tick
// ARGV: payload, dedup ttl(ms), latest ttl(ms), channel, observedAt（定宽纳秒）
var applyScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[2]) then
  return 0
end
local cur = redis.call('HGET', KEYS[2], 'observed_at')
if (not cur) or cur <= ARGV[5] then
  redis.call('HSET', KEYS[2], 'payload', ARGV[1], 'observed_at', ARGV[5])
  redis.call('PEXPIRE', KEYS[2], ARGV[3])
end
redis.call('PUBLISH', ARGV[4], ARGV[1])
return 1
`)

// Sink Redis 下游
type Sink struct {
	rdb     redis.UniversalClient
	cfg     config.CacheSinkConfig
	groupID string
	logger  *slog.Logger
}

// New 创建 Redis 下游，groupID 为所属消费组，同一 Tick 在每个消费组内最多生效一次
func New(rdb redis.UniversalClient, cfg config.CacheSinkConfig, groupID string, logger *slog.Logger) *Sink {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 72 * time.Hour
	}
	return &Sink{rdb: rdb, cfg: cfg, groupID: groupID, logger: logger}
}

// Name 下游名称
func (s *Sink) Name() string { return Name }

// Handle 实现 domain.Sink，按去重键幂等
func (s *Sink) Handle(ctx context.Context, tick domain.Tick) domain.SinkResult {
	payload, err := domain.EncodeTick(tick)
	if err != nil {
		return domain.Fatal(err)
	}

	keys := []string{s.dedupKey(tick.DedupKey()), s.LatestKey(tick.Symbol())}
	applied, err := applyScript.Run(ctx, s.rdb, keys,
		string(payload),
		s.cfg.DedupTTL.Milliseconds(),
		s.cfg.TTL.Milliseconds(),
		s.Channel(tick.Symbol()),
		fmt.Sprintf("%020d", tick.ObservedAt().UnixNano()),
	).Int()
	if err != nil {
		return domain.Retryable(fmt.Errorf("redis apply %s: %w", tick.DedupKey(), err))
	}

	if applied == 0 {
		s.logger.DebugContext(ctx, "duplicate tick ignored", "dedup_key", tick.DedupKey())
	}
	return domain.Success()
}

// Latest 读取交易代码的最新 Tick
func (s *Sink) Latest(ctx context.Context, symbol string) (domain.Tick, bool, error) {
	payload, err := s.rdb.HGet(ctx, s.LatestKey(strings.ToUpper(symbol)), "payload").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Tick{}, false, nil
	}
	if err != nil {
		return domain.Tick{}, false, fmt.Errorf("redis get latest %s: %w", symbol, err)
	}
	tick, err := domain.DecodeTick(payload)
	if err != nil {
		return domain.Tick{}, false, err
	}
	return tick, true, nil
}

// Ping 就绪检查
func (s *Sink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// LatestKey 最新 Tick 的 key
func (s *Sink) LatestKey(symbol string) string {
	return s.cfg.KeyPrefix + "latest:" + symbol
}

// Channel 看板发布通道
func (s *Sink) Channel(symbol string) string {
	return s.cfg.ChannelPrefix + symbol
}

func (s *Sink) dedupKey(dedupKey string) string {
	return s.cfg.KeyPrefix + "dedup:" + s.groupID + ":" + dedupKey
}
