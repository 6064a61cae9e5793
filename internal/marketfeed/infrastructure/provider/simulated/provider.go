// Package simulated 提供确定性的随机游走报价源，无需 API Key 即可运行整条管道
package simulated

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
)

// Name 数据源名称
const Name = "simulated"

// Provider 随机游走报价源
// 每次拉取以 repeatRatio 的概率返回与上次相同的成交（模拟无新成交时的重复报价）
type Provider struct {
	mu          sync.Mutex
	rng         *rand.Rand
	now         func() time.Time
	repeatRatio float64
	volatility  float64
	last        map[string]*state
}

type state struct {
	price      decimal.Decimal
	seq        int64
	observedAt time.Time
}

// Option 配置项
type Option func(*Provider)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithRepeatRatio 设置重复报价的概率
func WithRepeatRatio(ratio float64) Option {
	return func(p *Provider) { p.repeatRatio = ratio }
}

// WithVolatility 设置单步相对波动的标准差
func WithVolatility(v float64) Option {
	return func(p *Provider) { p.volatility = v }
}

// New 创建随机游走报价源，相同 seed 产生相同序列
func New(seed int64, opts ...Option) *Provider {
	p := &Provider{
		rng:         rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
		now:         time.Now,
		repeatRatio: 0.2,
		volatility:  0.002,
		last:        make(map[string]*state),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 实现 domain.QuoteProvider
func (p *Provider) Name() string { return Name }

// FetchQuote 实现 domain.QuoteProvider
func (p *Provider) FetchQuote(ctx context.Context, symbol string) (domain.RawQuote, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawQuote{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	s, ok := p.last[symbol]
	switch {
	case !ok:
		s = &state{price: basePrice(symbol), seq: 1, observedAt: now}
		p.last[symbol] = s
	case p.rng.Float64() < p.repeatRatio:
		// 没有新成交，原样返回上一笔
	default:
		step := decimal.NewFromFloat(1 + p.rng.NormFloat64()*p.volatility)
		next := s.price.Mul(step).Round(2)
		if !next.IsPositive() {
			next = decimal.New(1, -2)
		}
		s.price = next
		s.seq++
		if now.After(s.observedAt) {
			s.observedAt = now
		}
	}

	return domain.RawQuote{
		Symbol:     symbol,
		Price:      s.price.StringFixed(2),
		ObservedAt: s.observedAt.Format(time.RFC3339Nano),
		SourceSeq:  strconv.FormatInt(s.seq, 10),
		Source:     Name,
		ReceivedAt: now,
	}, nil
}

// basePrice 按代码生成 20 到 500 之间的初始价格
func basePrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	cents := 2000 + int64(h.Sum32()%48000)
	return decimal.New(cents, -2)
}
