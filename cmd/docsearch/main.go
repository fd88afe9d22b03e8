package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velsin/docsearch/internal/analytics"
	"github.com/velsin/docsearch/internal/analyzer"
	"github.com/velsin/docsearch/internal/catalog"
	"github.com/velsin/docsearch/internal/corpus"
	"github.com/velsin/docsearch/internal/indexer"
	"github.com/velsin/docsearch/internal/searcher"
	"github.com/velsin/docsearch/internal/searcher/cache"
	"github.com/velsin/docsearch/internal/web"
	"github.com/velsin/docsearch/pkg/config"
	"github.com/velsin/docsearch/pkg/health"
	"github.com/velsin/docsearch/pkg/kafka"
	"github.com/velsin/docsearch/pkg/logger"
	"github.com/velsin/docsearch/pkg/metrics"
	"github.com/velsin/docsearch/pkg/middleware"
	"github.com/velsin/docsearch/pkg/postgres"
	pkgredis "github.com/velsin/docsearch/pkg/redis"
	"github.com/velsin/docsearch/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting docsearch", "port", cfg.Server.Port, "corpus", cfg.Corpus.Dir)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	scanner := corpus.NewScanner(cfg.Corpus)
	an := analyzer.New(cfg.Analyzer)
	builder := indexer.NewBuilder(scanner, an, cfg.Index)
	store := indexer.NewStore(builder, scanner, cfg.Index)

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, an, cfg.Redis)
			slog.Info("query cache enabled",
				"addr", cfg.Redis.Addr,
				"ttl", cfg.Redis.CacheTTL,
			)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cat *catalog.Catalog
	var pgClient *postgres.Client
	if cfg.Postgres.Enabled {
		err = resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{}, func() error {
			var connErr error
			pgClient, connErr = postgres.New(cfg.Postgres)
			return connErr
		})
		if err != nil {
			slog.Warn("postgres unavailable, document catalog disabled", "error", err)
			pgClient = nil
		} else {
			defer pgClient.Close()
			cat = catalog.New(pgClient)
			if err := cat.EnsureSchema(ctx); err != nil {
				slog.Warn("catalog schema setup failed, document catalog disabled", "error", err)
				cat = nil
			} else {
				slog.Info("document catalog enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
			}
		}
	}

	aggregator := analytics.NewAggregator()
	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.EventsTopic)
		defer producer.Close()
		collector = analytics.NewCollector(analytics.NewKafkaPublisher(producer), 10000)

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.EventsTopic, analytics.HandleEvent(aggregator))
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
		slog.Info("analytics pipeline using kafka", "topic", cfg.Kafka.EventsTopic)
	} else {
		collector = analytics.NewCollector(analytics.NewLocalPublisher(aggregator), 10000)
		slog.Info("analytics pipeline running in-process")
	}
	collector.Start(ctx)
	defer collector.Close()
	analyticsH := analytics.NewHandler(aggregator)

	store.SetOnBuild(func(result indexer.BuildResult) {
		if m != nil {
			m.IndexBuildsTotal.WithLabelValues(result.Status).Inc()
			if result.Status == indexer.BuildStatusBuilt {
				m.IndexBuildDuration.Observe(result.Duration.Seconds())
			}
			if result.Status != indexer.BuildStatusFailed {
				m.IndexedDocuments.Set(float64(result.Documents))
				m.VocabularySize.Set(float64(result.Vocabulary))
				m.CorpusSizeBytes.Set(float64(result.CorpusBytes))
			}
		}
		collector.Track(analytics.BuildEvent{
			Type:       analytics.EventIndexBuild,
			Status:     result.Status,
			Documents:  result.Documents,
			Vocabulary: result.Vocabulary,
			LatencyMs:  result.DurationMS,
			Timestamp:  time.Now().UTC(),
		})
		if result.Status != indexer.BuildStatusBuilt {
			return
		}
		ix := store.Snapshot()
		if ix == nil {
			return
		}
		buildCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cat != nil {
			if err := cat.Refresh(buildCtx, ix); err != nil {
				slog.Warn("catalog refresh failed", "error", err)
			}
		}
		if queryCache != nil {
			if err := queryCache.Invalidate(buildCtx); err != nil {
				slog.Warn("query cache invalidation failed", "error", err)
			}
		}
	})
	store.Open()

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		if ix := store.Snapshot(); ix != nil {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents indexed", ix.DocCount())}
		}
		return health.ComponentHealth{Status: health.StatusDegraded, Message: "index not built yet"}
	})
	checker.Register("corpus", func(ctx context.Context) health.ComponentHealth {
		docs, err := scanner.Scan()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents on disk", len(docs))}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}
	if pgClient != nil {
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pgClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	search := searcher.New(store, an, cfg.Search)
	h := web.New(store, search, scanner, queryCache, collector, cat, m, cfg.Search)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      web.NewRouter(h, analyticsH, checker, limiter, m, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
		slog.Info("metrics server listening", "port", cfg.Metrics.Port)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if stopMetrics != nil {
			if err := stopMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("docsearch listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("docsearch stopped")
}
