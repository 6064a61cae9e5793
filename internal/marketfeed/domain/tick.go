// Package domain 行情采集与分发管道的领域模型：Tick、原始报价、去重窗口、发布记录、错误分类与端口接口
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// Tick 标准化后的行情快照
// 构造后不可变，下游只读取或派生新记录，从不修改
type Tick struct {
	symbol     string
	price      decimal.Decimal
	observedAt time.Time
	sourceSeq  string
	dedupKey   string
}

// NewTick 创建 Tick，调用方需保证参数已通过校验（见 Normalizer）
func NewTick(symbol string, price decimal.Decimal, observedAt time.Time, sourceSeq string) Tick {
	t := Tick{
		symbol:     symbol,
		price:      price,
		observedAt: observedAt.UTC(),
		sourceSeq:  sourceSeq,
	}
	t.dedupKey = computeDedupKey(t)
	return t
}

// Symbol 交易代码（大写）
func (t Tick) Symbol() string { return t.symbol }

// Price 价格
func (t Tick) Price() decimal.Decimal { return t.price }

// ObservedAt 观测时间（UTC）
func (t Tick) ObservedAt() time.Time { return t.observedAt }

// SourceSeq 数据源提供的序列号，可能为空
func (t Tick) SourceSeq() string { return t.sourceSeq }

// HasSourceSeq 是否带有数据源序列号
func (t Tick) HasSourceSeq() bool { return t.sourceSeq != "" }

// DedupKey 去重键
// 有数据源序列号时为 "<SYMBOL>:<seq>"，否则为 (symbol, price, observedAt) 的内容哈希
func (t Tick) DedupKey() string { return t.dedupKey }

// IsZero 是否为空 Tick
func (t Tick) IsZero() bool { return t.symbol == "" }

// Equal 比较两个 Tick 的内容
func (t Tick) Equal(o Tick) bool {
	return t.symbol == o.symbol &&
		t.price.Equal(o.price) &&
		t.observedAt.Equal(o.observedAt) &&
		t.sourceSeq == o.sourceSeq
}

func computeDedupKey(t Tick) string {
	if t.sourceSeq != "" {
		return t.symbol + ":" + t.sourceSeq
	}
	return ContentHash(t.symbol, t.price, t.observedAt)
}

// ContentHash 计算内容哈希去重键
func ContentHash(symbol string, price decimal.Decimal, observedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(symbol))
	h.Write([]byte{'|'})
	h.Write([]byte(price.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(observedAt.UTC().Format(time.RFC3339Nano)))
	return "h:" + hex.EncodeToString(h.Sum(nil))
}

// RawQuote 数据源返回的原始报价，字段均为字符串形式以避免精度损失
type RawQuote struct {
	// 交易代码，未经规范化
	Symbol string
	// 价格文本
	Price string
	// 观测时间文本，可为空
	ObservedAt string
	// 数据源序列号，可为空
	SourceSeq string
	// 数据源名称
	Source string
	// Fetcher 接收时间
	ReceivedAt time.Time
}
