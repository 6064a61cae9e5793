package domain

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._\-/:]{0,31}$`)

// maxUnixNanos 可以用 int64 纳秒表示的最大 Unix 时间
var maxUnixNanos = decimal.NewFromInt(math.MaxInt64)

// Decision 去重窗口对 Tick 的判定结果
type Decision int

const (
	// DecisionAccept 接受并发布
	DecisionAccept Decision = iota
	// DecisionSuppress 去重键未变化，抑制重复发布
	DecisionSuppress
	// DecisionReject 时间早于已接受的最新 Tick，拒绝
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionSuppress:
		return "suppress"
	case DecisionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Normalizer 将原始报价转换为标准 Tick
type Normalizer struct {
	maxFutureSkew time.Duration
}

// NewNormalizer 创建 Normalizer，maxFutureSkew 为允许观测时间超前接收时间的最大值，0 表示不限制
func NewNormalizer(maxFutureSkew time.Duration) *Normalizer {
	return &Normalizer{maxFutureSkew: maxFutureSkew}
}

// Normalize 校验并转换原始报价
// 纯函数：失败时返回 *ValidationError，不会 panic
func (n *Normalizer) Normalize(raw RawQuote) (Tick, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		return Tick{}, &ValidationError{Field: "symbol", Reason: "empty"}
	}
	if !symbolPattern.MatchString(symbol) {
		return Tick{}, &ValidationError{Field: "symbol", Reason: "unsupported characters or length: " + symbol}
	}

	price, err := parsePrice(raw.Price)
	if err != nil {
		return Tick{}, err
	}

	observedAt, err := n.parseObservedAt(raw)
	if err != nil {
		return Tick{}, err
	}

	return NewTick(symbol, price, observedAt, strings.TrimSpace(raw.SourceSeq)), nil
}

// Admit 根据去重窗口判定 Tick 是否需要发布
// 时间相同但去重键不同（同一时刻价格修正）视为接受
func (n *Normalizer) Admit(tick Tick, window *FetchWindow) Decision {
	if window == nil || window.IsEmpty() {
		return DecisionAccept
	}
	if tick.DedupKey() == window.LastDedupKey() {
		return DecisionSuppress
	}
	if tick.ObservedAt().Before(window.LastObservedAt()) {
		return DecisionReject
	}
	return DecisionAccept
}

func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "missing"}
	}
	f, err := strconv.ParseFloat(s, 64)
	switch {
	case errors.Is(err, strconv.ErrRange):
		// 下游按 float64 解析 JSON number，超出范围会变成 Inf
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "out of float64 range: " + s}
	case err == nil && (math.IsNaN(f) || math.IsInf(f, 0)):
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "not finite"}
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "not a number: " + s}
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "must be positive"}
	}
	if f == 0 {
		// ParseFloat 下溢时返回 0 且不报错
		return decimal.Decimal{}, &ValidationError{Field: "price", Reason: "out of float64 range: " + s}
	}
	return price, nil
}

func (n *Normalizer) parseObservedAt(raw RawQuote) (time.Time, error) {
	s := strings.TrimSpace(raw.ObservedAt)
	if s == "" {
		if raw.ReceivedAt.IsZero() {
			return time.Time{}, &ValidationError{Field: "observedAt", Reason: "missing and no receipt time"}
		}
		return raw.ReceivedAt.UTC(), nil
	}

	ts, err := parseTimestamp(s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "observedAt", Reason: err.Error()}
	}

	if n.maxFutureSkew > 0 && !raw.ReceivedAt.IsZero() && ts.After(raw.ReceivedAt.Add(n.maxFutureSkew)) {
		return time.Time{}, &ValidationError{Field: "observedAt", Reason: "too far in the future"}
	}
	return ts.UTC(), nil
}

// parseTimestamp 支持 RFC3339/RFC3339Nano 与 Unix 时间戳（按数量级区分秒、毫秒、微秒、纳秒）
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}

	if strings.Contains(s, ".") {
		secs, err := decimal.NewFromString(s)
		if err != nil || !secs.IsPositive() {
			return time.Time{}, errUnparseable(s)
		}
		nanos := secs.Mul(decimal.NewFromInt(int64(time.Second))).Truncate(0)
		if nanos.GreaterThan(maxUnixNanos) {
			return time.Time{}, errUnparseable(s)
		}
		return time.Unix(0, nanos.IntPart()), nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return time.Time{}, errUnparseable(s)
	}
	switch {
	case v < 1e11:
		return time.Unix(v, 0), nil
	case v < 1e14:
		return time.UnixMilli(v), nil
	case v < 1e17:
		return time.UnixMicro(v), nil
	default:
		return time.Unix(0, v), nil
	}
}

type timestampError string

func (e timestampError) Error() string { return "unparseable timestamp: " + string(e) }

func errUnparseable(s string) error { return timestampError(s) }
