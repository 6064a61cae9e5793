package domain

import "time"

// FetchWindow 单个交易代码的采集窗口
// 记录最近一次成功发布的观测时间与去重键，仅由采集循环持有
type FetchWindow struct {
	symbol         string
	lastObservedAt time.Time
	lastDedupKey   string
	lastFetchedAt  time.Time
}

// NewFetchWindow 创建采集窗口
func NewFetchWindow(symbol string) *FetchWindow {
	return &FetchWindow{symbol: symbol}
}

// Symbol 交易代码
func (w *FetchWindow) Symbol() string { return w.symbol }

// LastObservedAt 最近一次发布的观测时间
func (w *FetchWindow) LastObservedAt() time.Time { return w.lastObservedAt }

// LastDedupKey 最近一次发布的去重键
func (w *FetchWindow) LastDedupKey() string { return w.lastDedupKey }

// LastFetchedAt 最近一次成功采集的时间
func (w *FetchWindow) LastFetchedAt() time.Time { return w.lastFetchedAt }

// IsEmpty 是否尚未发布过
func (w *FetchWindow) IsEmpty() bool { return w.lastDedupKey == "" }

// MarkFetched 记录成功采集（不论是否发布）
func (w *FetchWindow) MarkFetched(at time.Time) {
	w.lastFetchedAt = at
}

// MarkPublished 在 Broker 确认后推进窗口
func (w *FetchWindow) MarkPublished(tick Tick) {
	w.lastDedupKey = tick.DedupKey()
	if tick.ObservedAt().After(w.lastObservedAt) {
		w.lastObservedAt = tick.ObservedAt()
	}
}
