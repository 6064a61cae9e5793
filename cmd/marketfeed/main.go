package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/marketfeed/internal/marketfeed/application"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/domain"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/memorybroker"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/messaging"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/provider/polygon"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/provider/simulated"
	sinkcache "github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/sink/cache"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/sink/fanout"
	"github.com/wyfcoding/marketfeed/internal/marketfeed/infrastructure/sink/pricing"
	httpserver "github.com/wyfcoding/marketfeed/internal/marketfeed/interfaces/http"
	"github.com/wyfcoding/marketfeed/pkg/cache"
	"github.com/wyfcoding/marketfeed/pkg/config"
	"github.com/wyfcoding/marketfeed/pkg/logger"
	"github.com/wyfcoding/marketfeed/pkg/metrics"
	"github.com/wyfcoding/marketfeed/pkg/mq"
	"github.com/wyfcoding/marketfeed/pkg/ratelimit"
)

var (
	configPath = flag.String("config", "configs/marketfeed/config.toml", "config file path")
	mode       = flag.String("mode", "all", "process role: fetcher, consumer or all")
)

const (
	modeFetcher  = "fetcher"
	modeConsumer = "consumer"
	modeAll      = "all"
)

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	log, err := logger.New(cfg.Log, cfg.ServiceName)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	slog.SetDefault(log)

	if err := run(cfg, *mode, log); err != nil {
		log.Error("marketfeed exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, mode string, log *slog.Logger) error {
	runFetcher := mode == modeFetcher || mode == modeAll
	runConsumer := mode == modeConsumer || mode == modeAll
	if !runFetcher && !runConsumer {
		return fmt.Errorf("unsupported mode: %q", mode)
	}
	if cfg.Kafka.Driver == "memory" && mode != modeAll {
		return fmt.Errorf("kafka.driver memory requires -mode=%s", modeAll)
	}
	if runConsumer && cfg.Kafka.Driver == "kafka" && cfg.Kafka.DeadLetterTopic == "" {
		return fmt.Errorf("kafka.dead_letter_topic is required in %s mode", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Metrics
	m := metrics.New(cfg.Metrics.Namespace)

	// 4. Redis，限流器与缓存 Sink 共用
	var rdb *redis.Client
	if (runFetcher && cfg.RateLimit.Driver == "redis") || (runConsumer && cfg.Sink.Cache.Enabled) {
		client, err := cache.New(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer client.Close()
		rdb = client
	}

	return serve(ctx, cfg, log, m, rdb, runFetcher, runConsumer)
}

// broker 按驱动组装的 Broker 端口
type broker struct {
	writer domain.RecordWriter
	dlq    domain.DeadLetterWriter
	group  func() (domain.ConsumerGroup, error)
	close  func() error
}

func newBroker(cfg *config.Config, log *slog.Logger) *broker {
	if cfg.Kafka.Driver == "memory" {
		b := memorybroker.New(cfg.Kafka.Partitions)
		log.Warn("using in-memory broker, records are lost on exit", "partitions", cfg.Kafka.Partitions)
		return &broker{
			writer: b,
			dlq:    b,
			group: func() (domain.ConsumerGroup, error) {
				return b.JoinGroup(cfg.Kafka.GroupID, cfg.Kafka.Topic), nil
			},
			close: func() error { return nil },
		}
	}

	producer := mq.NewProducer(cfg.Kafka, logger.Component(log, "kafka"))
	return &broker{
		writer: messaging.NewTickWriter(producer),
		dlq:    messaging.NewDeadLetterWriter(mq.NewDeadLetterQueue(producer, cfg.Kafka.DeadLetterTopic), logger.Component(log, "dlq")),
		group: func() (domain.ConsumerGroup, error) {
			g, err := mq.NewConsumerGroup(cfg.Kafka, cfg.Kafka.Topic, logger.Component(log, "kafka"))
			if err != nil {
				return nil, err
			}
			return messaging.NewConsumerGroup(g, cfg.Kafka.Brokers, cfg.Kafka.Topic), nil
		},
		close: producer.Close,
	}
}

func newProvider(cfg config.ProviderConfig) domain.QuoteProvider {
	if cfg.Name == polygon.Name {
		return polygon.NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
	}
	return simulated.New(cfg.Seed)
}

func newLimiter(cfg config.RateLimitConfig, rdb *redis.Client) ratelimit.Limiter {
	if cfg.Driver == "redis" {
		return ratelimit.NewRedisLimiter(rdb, cfg.Key, ratelimit.Limit{
			Rate:   cfg.Requests,
			Period: cfg.Window,
			Burst:  cfg.Requests,
		})
	}
	return ratelimit.NewSlidingWindow(cfg.Requests, cfg.Window)
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics, rdb *redis.Client, runFetcher, runConsumer bool) error {
	b := newBroker(cfg, log)
	defer func() {
		if err := b.close(); err != nil {
			log.Error("failed to close broker", "error", err)
		}
	}()

	opts := httpserver.Options{Service: cfg.ServiceName, Checks: map[string]httpserver.Check{}}
	if cfg.Metrics.Enabled {
		opts.Metrics = m.Handler()
		opts.MetricsPath = cfg.Metrics.Path
	}
	if rdb != nil {
		opts.Checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, rdb) }
	}

	g, gctx := errgroup.WithContext(ctx)

	// 5. Fetch -> Normalize -> Publish
	if runFetcher {
		if minInterval := cfg.MinPollInterval(); cfg.Fetcher.Interval < minInterval {
			log.Warn("poll interval is shorter than the provider quota allows, cycles will overrun",
				"interval", cfg.Fetcher.Interval,
				"min_interval", minInterval,
				"symbols", len(cfg.Fetcher.Symbols),
			)
		}

		provider := newProvider(cfg.Provider)
		fetcher := application.NewFetcher(provider, newLimiter(cfg.RateLimit, rdb), cfg.Fetcher, m, logger.Component(log, "fetcher"))
		publisher := application.NewPublisher(b.writer, cfg.Kafka.Topic, cfg.Publisher, m, logger.Component(log, "publisher"))
		ingestor := application.NewIngestor(fetcher, domain.NewNormalizer(cfg.Normalizer.MaxFutureSkew), publisher,
			cfg.Fetcher.Symbols, cfg.Fetcher.PublishConcurrency, m, logger.Component(log, "ingestor"))
		scheduler := application.NewScheduler(ingestor, cfg.Fetcher.Interval, cfg.Fetcher.CycleTimeout, logger.Component(log, "scheduler"))

		opts.Ingestor = ingestor
		opts.Publisher = publisher

		log.Info("fetcher starting", "provider", provider.Name(), "symbols", cfg.Fetcher.Symbols, "interval", cfg.Fetcher.Interval)
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	// 6. Consume -> Sinks
	if runConsumer {
		var sinks []fanout.NamedSink
		if cfg.Sink.Cache.Enabled {
			cs := sinkcache.New(rdb, cfg.Sink.Cache, cfg.Kafka.GroupID, logger.Component(log, "sink.cache"))
			sinks = append(sinks, cs)
			opts.Latest = cs
		}
		if cfg.Sink.Pricing.Enabled {
			ps := pricing.New(cfg.Sink.Pricing, logger.Component(log, "sink.pricing"))
			sinks = append(sinks, ps)
			opts.Checks["pricing"] = func(context.Context) error {
				if st := ps.State(); st == "open" {
					return fmt.Errorf("circuit breaker %s", st)
				}
				return nil
			}
		}
		if len(sinks) == 0 {
			log.Warn("no sinks enabled, consumed ticks are committed without side effects")
		}
		sink := fanout.New(logger.Component(log, "sink"), sinks...)

		group, err := b.group()
		if err != nil {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		subscriber := application.NewSubscriber(group, sink, b.dlq, cfg.Consumer, cfg.Kafka.GroupID, m, logger.Component(log, "subscriber"))
		opts.Subscriber = subscriber

		log.Info("subscriber starting", "group_id", cfg.Kafka.GroupID, "topic", cfg.Kafka.Topic, "sinks", sink.Names())
		g.Go(func() error { return subscriber.Run(gctx) })
	}

	// 7. Ops HTTP
	if cfg.HTTP.Enabled {
		h := httpserver.NewHandler(opts, logger.Component(log, "http"))
		srv := httpserver.NewServer(cfg.HTTP, httpserver.NewRouter(h, cfg.Environment, log))

		g.Go(func() error {
			log.Info("HTTP server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil {
		return err
	}
	log.Info("marketfeed stopped")
	return nil
}
