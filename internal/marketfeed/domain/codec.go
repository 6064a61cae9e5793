package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContentTypeTickV1 消息头中的内容类型
const ContentTypeTickV1 = "application/vnd.marketfeed.tick.v1+json"

// wireTick Tick 的线上格式
type wireTick struct {
	Symbol     string      `json:"symbol"`
	Price      json.Number `json:"price"`
	ObservedAt string      `json:"observedAt"`
	SourceSeq  *string     `json:"sourceSeq"`
}

// EncodeTick 序列化 Tick，price 以 JSON number 输出且不损失精度
func EncodeTick(t Tick) ([]byte, error) {
	if t.IsZero() {
		return nil, fmt.Errorf("%w: empty tick", ErrSerialization)
	}
	// 与 DecodeTick 使用同一套校验，消费端无法解码的 Tick 不允许发布
	if err := checkWire(t.symbol, t.price); err != nil {
		return nil, err
	}
	w := wireTick{
		Symbol:     t.symbol,
		Price:      json.Number(t.price.String()),
		ObservedAt: t.observedAt.Format(time.RFC3339Nano),
	}
	if t.sourceSeq != "" {
		seq := t.sourceSeq
		w.SourceSeq = &seq
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// DecodeTick 反序列化并重新校验 Tick
func DecodeTick(data []byte) (Tick, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w wireTick
	if err := dec.Decode(&w); err != nil {
		return Tick{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	price, err := decimal.NewFromString(w.Price.String())
	if err != nil {
		return Tick{}, fmt.Errorf("%w: invalid price %q", ErrSerialization, w.Price.String())
	}
	if err := checkWire(w.Symbol, price); err != nil {
		return Tick{}, err
	}
	observedAt, err := time.Parse(time.RFC3339Nano, w.ObservedAt)
	if err != nil {
		return Tick{}, fmt.Errorf("%w: invalid observedAt %q", ErrSerialization, w.ObservedAt)
	}
	seq := ""
	if w.SourceSeq != nil {
		seq = *w.SourceSeq
	}
	return NewTick(w.Symbol, price, observedAt, seq), nil
}

// checkWire 线上格式对代码与价格的约束
func checkWire(symbol string, price decimal.Decimal) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: invalid symbol %q", ErrSerialization, symbol)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: invalid price %q", ErrSerialization, price.String())
	}
	return nil
}

// PublishRecord 交给 Broker 的发布记录
type PublishRecord struct {
	// 主题
	Topic string
	// 分区键（交易代码）
	PartitionKey string
	// 序列化后的 Tick
	Payload []byte
	// 幂等键（去重键）
	IdempotencyKey string
}

// NewPublishRecord 为 Tick 构建发布记录
func NewPublishRecord(topic string, t Tick) (PublishRecord, error) {
	payload, err := EncodeTick(t)
	if err != nil {
		return PublishRecord{}, err
	}
	return PublishRecord{
		Topic:          topic,
		PartitionKey:   t.Symbol(),
		Payload:        payload,
		IdempotencyKey: t.DedupKey(),
	}, nil
}
