// Package metrics 提供管道的 Prometheus 指标集合
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// 采集结果计数：ok, retried_out, fatal, malformed, dropped
	QuotesFetched *prometheus.CounterVec
	// 排队溢出丢弃的代码数
	FetchQueueDropped prometheus.Counter
	// 采集重试次数
	FetchRetries prometheus.Counter
	// 规范化结果：accept, suppress, reject, invalid
	TicksNormalized *prometheus.CounterVec
	// 单轮采集耗时
	PollDuration prometheus.Histogram

	// 发布结果：ok, failed
	TicksPublished *prometheus.CounterVec
	// 发布重试次数
	PublishRetries prometheus.Counter
	// Broker 持续不可用告警（0/1）
	BrokerUnavailable prometheus.Gauge
	// 发布耗时
	PublishDuration prometheus.Histogram

	// 消费结果：success, retryable, fatal, poison
	TicksConsumed *prometheus.CounterVec
	// 死信计数
	DeadLetters *prometheus.CounterVec
	// 批次提交计数：committed, discarded
	BatchCommits *prometheus.CounterVec
	// 已停止的分区数
	PartitionsHalted prometheus.Gauge
	// 当前分配的分区数
	PartitionsAssigned prometheus.Gauge
	// 消费者状态，值为状态序号
	ConsumerState prometheus.Gauge

	registry *prometheus.Registry
}

// New 创建指标实例并注册到独立的 Registry
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(namespace)
	m.registry = reg
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(m.collectors()...)
	return m
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		QuotesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "quotes_fetched_total",
			Help:      "Quotes fetched from the provider by result",
		}, []string{"result"}),
		FetchQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "queue_dropped_total",
			Help:      "Symbols dropped from the dispatch queue due to backpressure",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "retries_total",
			Help:      "Provider request retries",
		}),
		TicksNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "ticks_total",
			Help:      "Normalizer decisions",
		}, []string{"decision"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one poll cycle",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		TicksPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "ticks_total",
			Help:      "Ticks published to the broker by result",
		}, []string{"result"}),
		PublishRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "retries_total",
			Help:      "Broker publish retries",
		}),
		BrokerUnavailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "broker_unavailable",
			Help:      "1 when the broker has been unreachable beyond the alert threshold",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "publish_duration_seconds",
			Help:      "Publish latency including retries",
			Buckets:   prometheus.DefBuckets,
		}),
		TicksConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "ticks_total",
			Help:      "Records consumed by outcome",
		}, []string{"outcome"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "dead_letters_total",
			Help:      "Records routed to the dead-letter path",
		}, []string{"reason"}),
		BatchCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "batches_total",
			Help:      "Batches committed or discarded",
		}, []string{"result"}),
		PartitionsHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "partitions_halted",
			Help:      "Partitions halted after consecutive poison messages",
		}),
		PartitionsAssigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "partitions_assigned",
			Help:      "Partitions currently assigned to this member",
		}),
		ConsumerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "state",
			Help:      "Consumer state machine position",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.QuotesFetched,
		m.FetchQueueDropped,
		m.FetchRetries,
		m.TicksNormalized,
		m.PollDuration,
		m.TicksPublished,
		m.PublishRetries,
		m.BrokerUnavailable,
		m.PublishDuration,
		m.TicksConsumed,
		m.DeadLetters,
		m.BatchCommits,
		m.PartitionsHalted,
		m.PartitionsAssigned,
		m.ConsumerState,
	}
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 抓取接口
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Nop 返回未注册到任何抓取端点的指标实例，用于测试
func Nop() *Metrics {
	m := newMetrics("test")
	m.registry = prometheus.NewRegistry()
	return m
}
