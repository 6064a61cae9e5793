// Package polygon 实现 Polygon 风格的最新成交报价数据源
package polygon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
)

// Name 数据源名称
const Name = "polygon"

const lastTradePath = "/v2/last/trade/{ticker}"

// Client Polygon REST 客户端
type Client struct {
	http *resty.Client
	now  func() time.Time
}

// Option 配置项
type Option func(*Client)

// WithClock 替换接收时间的时钟，用于测试
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient 创建客户端，apiKey 仅通过 Authorization 头发送
func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetAuthToken(apiKey).
			SetHeader("Accept", "application/json"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name 实现 domain.QuoteProvider
func (c *Client) Name() string { return Name }

type lastTradeResponse struct {
	Status  string     `json:"status"`
	Error   string     `json:"error"`
	Results *lastTrade `json:"results"`
}

type lastTrade struct {
	Ticker    string      `json:"T"`
	Price     json.Number `json:"p"`
	Timestamp json.Number `json:"t"`
	TradeID   string      `json:"i"`
	Sequence  json.Number `json:"q"`
}

// FetchQuote 实现 domain.QuoteProvider
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.RawQuote, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ticker", symbol).
		Get(lastTradePath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.RawQuote{}, ctxErr
		}
		return domain.RawQuote{}, fmt.Errorf("%w: %s: %v", domain.ErrTransientNetwork, symbol, err)
	}
	receivedAt := c.now().UTC()

	if err := classifyStatus(resp); err != nil {
		return domain.RawQuote{}, fmt.Errorf("%s: %w", symbol, err)
	}

	var body lastTradeResponse
	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return domain.RawQuote{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedQuote, symbol, err)
	}
	if body.Results == nil {
		return domain.RawQuote{}, fmt.Errorf("%w: %s: missing results (status %q)", domain.ErrMalformedQuote, symbol, body.Status)
	}
	r := body.Results
	if r.Price == "" {
		return domain.RawQuote{}, fmt.Errorf("%w: %s: missing price", domain.ErrMalformedQuote, symbol)
	}

	ticker := r.Ticker
	if ticker == "" {
		ticker = symbol
	}
	seq := r.Sequence.String()
	if seq == "" || seq == "0" {
		seq = r.TradeID
	}

	return domain.RawQuote{
		Symbol:     ticker,
		Price:      r.Price.String(),
		ObservedAt: r.Timestamp.String(),
		SourceSeq:  seq,
		Source:     Name,
		ReceivedAt: receivedAt,
	}, nil
}

// classifyStatus 将 HTTP 状态码归类到错误分类
func classifyStatus(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &domain.RateLimitError{RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"), time.Now())}
	case code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrTransientNetwork, code)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrFatalProvider, code, errorMessage(resp.Body()))
	}
}

// parseRetryAfter 解析 Retry-After，支持秒数与 HTTP 日期
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func errorMessage(body []byte) string {
	var e lastTradeResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
