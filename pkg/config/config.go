// Package config 提供 TOML 配置加载、.env 与环境变量覆盖、配置校验
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 MARKETFEED_PROVIDER_API_KEY
const EnvPrefix = "MARKETFEED"

// Config 管道配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// 日志配置
	Log LogConfig `mapstructure:"log"`
	// 运维 HTTP 配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 数据源配置
	Provider ProviderConfig `mapstructure:"provider"`
	// 采集配置
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	// 规范化配置
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	// 发布配置
	Publisher PublisherConfig `mapstructure:"publisher"`
	// 消费配置
	Consumer ConsumerConfig `mapstructure:"consumer"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// 下游适配器配置
	Sink SinkConfig `mapstructure:"sink"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别：debug, info, warn, error
	Level string `mapstructure:"level"`
	// 输出格式：json 或 text
	Format string `mapstructure:"format"`
	// 输出目标：stdout, file, both
	Output string `mapstructure:"output"`
	// 文件路径
	FilePath string `mapstructure:"file_path"`
	// 最大文件大小（MB）
	MaxSize int `mapstructure:"max_size"`
	// 最大备份文件数
	MaxBackups int `mapstructure:"max_backups"`
	// 最大保留天数
	MaxAge int `mapstructure:"max_age"`
	// 是否压缩
	Compress bool `mapstructure:"compress"`
	// 是否输出调用者信息
	WithCaller bool `mapstructure:"with_caller"`
}

// HTTPConfig 运维 HTTP 服务配置
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// 驱动：kafka 或 memory（单进程开发模式）
	Driver string `mapstructure:"driver"`
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// Tick 主题
	Topic string `mapstructure:"topic"`
	// 死信主题
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
	// Consumer Group ID
	GroupID string `mapstructure:"group_id"`
	// memory 驱动的分区数
	Partitions int `mapstructure:"partitions"`
	// 写超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// 会话超时
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// 再平衡超时
	RebalanceTimeout time.Duration `mapstructure:"rebalance_timeout"`
	// 心跳间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// 无提交 offset 时从最早位置开始
	FromBeginning bool `mapstructure:"from_beginning"`
}

// ProviderConfig 报价数据源配置
type ProviderConfig struct {
	// 名称：polygon 或 simulated
	Name string `mapstructure:"name"`
	// 接口地址
	BaseURL string `mapstructure:"base_url"`
	// API Key，仅允许通过环境变量注入
	APIKey string `mapstructure:"api_key"`
	// 单次请求超时
	Timeout time.Duration `mapstructure:"timeout"`
	// simulated 数据源的随机种子
	Seed int64 `mapstructure:"seed"`
}

// FetcherConfig 采集配置
type FetcherConfig struct {
	// 交易代码集合
	Symbols []string `mapstructure:"symbols"`
	// 轮询间隔
	Interval time.Duration `mapstructure:"interval"`
	// 单轮超时，停机时用于等待进行中的轮次
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	// 并发拉取数
	Workers int `mapstructure:"workers"`
	// 等待令牌的最大排队深度
	MaxQueueDepth int `mapstructure:"max_queue_depth"`
	// 每轮每个代码的最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 退避初始间隔
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	// 退避最大间隔
	BackoffMax time.Duration `mapstructure:"backoff_max"`
	// 并发发布数
	PublishConcurrency int `mapstructure:"publish_concurrency"`
}

// RateLimitConfig 数据源配额
type RateLimitConfig struct {
	// 驱动：local 或 redis（多副本共享配额）
	Driver string `mapstructure:"driver"`
	// 每个窗口允许的请求数
	Requests int `mapstructure:"requests"`
	// 窗口长度
	Window time.Duration `mapstructure:"window"`
	// redis 驱动的 key
	Key string `mapstructure:"key"`
}

// NormalizerConfig 规范化配置
type NormalizerConfig struct {
	// 允许观测时间超前接收时间的最大值
	MaxFutureSkew time.Duration `mapstructure:"max_future_skew"`
}

// PublisherConfig 发布配置
type PublisherConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
	// Broker 持续不可用超过该时长时告警
	AlertAfter time.Duration `mapstructure:"alert_after"`
}

// ConsumerConfig 消费配置
type ConsumerConfig struct {
	// 单批最大条数
	BatchSize int `mapstructure:"batch_size"`
	// 单批最长等待
	BatchWait time.Duration `mapstructure:"batch_wait"`
	// 批次可重试失败的最大重试次数
	MaxBatchRetries int `mapstructure:"max_batch_retries"`
	// 批次退避初始间隔
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	// 批次退避最大间隔
	BackoffMax time.Duration `mapstructure:"backoff_max"`
	// 重试耗尽后分区暂停时长
	PauseOnFailure time.Duration `mapstructure:"pause_on_failure"`
	// 连续毒消息上限，达到后停止该分区
	MaxConsecutivePoison int `mapstructure:"max_consecutive_poison"`
	// 停机时等待当前批次完成的时长
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SinkConfig 下游适配器配置
type SinkConfig struct {
	Cache   CacheSinkConfig   `mapstructure:"cache"`
	Pricing PricingSinkConfig `mapstructure:"pricing"`
}

// CacheSinkConfig Redis 缓存与看板通道
type CacheSinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 最新 Tick 的过期时间
	TTL time.Duration `mapstructure:"ttl"`
	// 去重标记的过期时间，需覆盖最长的重投窗口
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
	// key 前缀
	KeyPrefix string `mapstructure:"key_prefix"`
	// 看板发布通道前缀
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// PricingSinkConfig 定价服务 HTTP 桥接
type PricingSinkConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// 客户端限流：每秒请求数与突发
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	// 熔断：连续失败次数与打开时长
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// Load 从 TOML 文件加载配置，支持 .env 与环境变量覆盖
// 配置文件不存在时仅使用默认值与环境变量
func Load(configPath string) (*Config, error) {
	// .env 仅用于本地开发注入密钥，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 密钥没有默认值，需显式绑定环境变量
	_ = v.BindEnv("provider.api_key")
	_ = v.BindEnv("redis.password")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// normalize 清理列表类配置
func (c *Config) normalize() {
	symbols := make([]string, 0, len(c.Fetcher.Symbols))
	seen := make(map[string]struct{}, len(c.Fetcher.Symbols))
	for _, s := range c.Fetcher.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	c.Fetcher.Symbols = symbols

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}

	switch c.Kafka.Driver {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required")
		}
	case "memory":
		if c.Kafka.Partitions <= 0 {
			return fmt.Errorf("kafka.partitions must be positive")
		}
	default:
		return fmt.Errorf("unsupported kafka.driver: %q", c.Kafka.Driver)
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required")
	}
	if c.Kafka.GroupID == "" {
		return fmt.Errorf("kafka.group_id is required")
	}

	switch c.Provider.Name {
	case "polygon":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required for polygon, set %s_PROVIDER_API_KEY", EnvPrefix)
		}
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("provider.base_url is required")
		}
	case "simulated":
	default:
		return fmt.Errorf("unsupported provider.name: %q", c.Provider.Name)
	}

	if len(c.Fetcher.Symbols) == 0 {
		return fmt.Errorf("fetcher.symbols must not be empty")
	}
	if c.Fetcher.Interval <= 0 {
		return fmt.Errorf("fetcher.interval must be positive")
	}
	if c.Fetcher.Workers <= 0 || c.Fetcher.MaxQueueDepth <= 0 {
		return fmt.Errorf("fetcher.workers and fetcher.max_queue_depth must be positive")
	}
	if c.Fetcher.MaxRetries < 0 || c.Publisher.MaxRetries < 0 || c.Consumer.MaxBatchRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}

	switch c.RateLimit.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("unsupported ratelimit.driver: %q", c.RateLimit.Driver)
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.requests and ratelimit.window must be positive")
	}

	if c.Consumer.BatchSize <= 0 || c.Consumer.BatchWait <= 0 {
		return fmt.Errorf("consumer.batch_size and consumer.batch_wait must be positive")
	}
	if c.Consumer.MaxConsecutivePoison <= 0 {
		return fmt.Errorf("consumer.max_consecutive_poison must be positive")
	}

	if c.Sink.Pricing.Enabled && c.Sink.Pricing.BaseURL == "" {
		return fmt.Errorf("sink.pricing.base_url is required when the pricing sink is enabled")
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	return nil
}

// MinPollInterval 在配额下完成一轮采集所需的最短间隔
func (c *Config) MinPollInterval() time.Duration {
	if c.RateLimit.Requests <= 0 {
		return 0
	}
	windows := (len(c.Fetcher.Symbols) + c.RateLimit.Requests - 1) / c.RateLimit.Requests
	return time.Duration(windows) * c.RateLimit.Window
}

// setDefaults 设置默认值，所有 key 都需要在此声明才能被环境变量覆盖
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "marketfeed")
	v.SetDefault("environment", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "logs/marketfeed.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.with_caller", false)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "marketfeed")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("kafka.driver", "kafka")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "market.ticks")
	v.SetDefault("kafka.dead_letter_topic", "market.ticks.dlq")
	v.SetDefault("kafka.group_id", "marketfeed-sinks")
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.write_timeout", 10*time.Second)
	v.SetDefault("kafka.session_timeout", 10*time.Second)
	v.SetDefault("kafka.rebalance_timeout", 30*time.Second)
	v.SetDefault("kafka.heartbeat_interval", 3*time.Second)
	v.SetDefault("kafka.from_beginning", false)

	v.SetDefault("provider.name", "simulated")
	v.SetDefault("provider.base_url", "https://api.polygon.io")
	v.SetDefault("provider.timeout", 5*time.Second)
	v.SetDefault("provider.seed", 1)

	v.SetDefault("fetcher.symbols", []string{})
	v.SetDefault("fetcher.interval", 15*time.Second)
	v.SetDefault("fetcher.cycle_timeout", 30*time.Second)
	v.SetDefault("fetcher.workers", 4)
	v.SetDefault("fetcher.max_queue_depth", 256)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.backoff_initial", 200*time.Millisecond)
	v.SetDefault("fetcher.backoff_max", 5*time.Second)
	v.SetDefault("fetcher.publish_concurrency", 4)

	v.SetDefault("ratelimit.driver", "local")
	v.SetDefault("ratelimit.requests", 5)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.key", "marketfeed:provider")

	v.SetDefault("normalizer.max_future_skew", time.Minute)

	v.SetDefault("publisher.max_retries", 5)
	v.SetDefault("publisher.backoff_initial", 100*time.Millisecond)
	v.SetDefault("publisher.backoff_max", 5*time.Second)
	v.SetDefault("publisher.max_elapsed", 30*time.Second)
	v.SetDefault("publisher.alert_after", 2*time.Minute)

	v.SetDefault("consumer.batch_size", 100)
	v.SetDefault("consumer.batch_wait", 500*time.Millisecond)
	v.SetDefault("consumer.max_batch_retries", 5)
	v.SetDefault("consumer.backoff_initial", 200*time.Millisecond)
	v.SetDefault("consumer.backoff_max", 10*time.Second)
	v.SetDefault("consumer.pause_on_failure", 30*time.Second)
	v.SetDefault("consumer.max_consecutive_poison", 10)
	v.SetDefault("consumer.drain_timeout", 15*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("sink.cache.enabled", true)
	v.SetDefault("sink.cache.ttl", 24*time.Hour)
	v.SetDefault("sink.cache.dedup_ttl", 72*time.Hour)
	v.SetDefault("sink.cache.key_prefix", "marketfeed:")
	v.SetDefault("sink.cache.channel_prefix", "ticks.")

	v.SetDefault("sink.pricing.enabled", false)
	v.SetDefault("sink.pricing.base_url", "")
	v.SetDefault("sink.pricing.timeout", 3*time.Second)
	v.SetDefault("sink.pricing.rate_per_second", 200.0)
	v.SetDefault("sink.pricing.burst", 50)
	v.SetDefault("sink.pricing.breaker_failures", 5)
	v.SetDefault("sink.pricing.breaker_timeout", 30*time.Second)
}
