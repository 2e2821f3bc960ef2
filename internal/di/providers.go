package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"CoinPull/internal/domain/repository"
	"CoinPull/internal/handler/api"
	internalrepo "CoinPull/internal/repository"
	"CoinPull/internal/service/coingecko"
	"CoinPull/internal/service/ratelimit"
	"CoinPull/internal/usecase"
	"CoinPull/pkg/cache"
	pkgch "CoinPull/pkg/clickhouse"
	"CoinPull/pkg/config"
	"CoinPull/pkg/db"
	pkghttp "CoinPull/pkg/http"
	pkgkafka "CoinPull/pkg/kafka"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"
	"CoinPull/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const initTimeout = 10 * time.Second

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates a private Prometheus registry with runtime collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideStorage opens the configured backend and ensures its tables.
func ProvideStorage(cfg *config.Config, l *applogger.Logger, m repository.Metrics) (repository.Storage, func(), error) {
	var store repository.Storage

	switch cfg.Storage.Driver {
	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, 0),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store = internalrepo.NewClickHouseStore(client, cfg.ClickHouse.Database, l, m)
	default:
		pg := cfg.Storage.Postgres
		gdb, err := db.Open(db.Option{
			Driver:          cfg.Storage.Driver,
			Path:            cfg.Storage.SQLite.Path,
			ConnString:      pg.DSN,
			Host:            pg.Host,
			Port:            pg.Port,
			User:            pg.User,
			Password:        pg.Password,
			Database:        pg.Database,
			SSLMode:         pg.SSLMode,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s store: %w", cfg.Storage.Driver, err)
		}
		store = internalrepo.NewSQLStore(gdb,
			internalrepo.WithChunkSize(cfg.Storage.ChunkSize),
			internalrepo.WithStoreLogger(l),
			internalrepo.WithStoreMetrics(m),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("init %s schema: %w", cfg.Storage.Driver, err)
	}
	l.Info("store ready", applogger.String("driver", cfg.Storage.Driver))

	cleanup := func() {
		if err := store.Close(); err != nil {
			l.Warn("store close error", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideCache returns Redis when enabled, otherwise a process-local cache.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, func(), error) {
	var svc cache.Service
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port))),
			cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
			cache.WithRedisPool(cfg.Redis.PoolSize, 0, 0),
			cache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		svc = rc
	} else {
		svc = cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.MemoryCache.MaxEntries),
			cache.WithMemoryCleanup(cfg.MemoryCache.CleanupInterval),
		)
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			l.Warn("cache close error", applogger.Error(err))
		}
	}
	return svc, cleanup, nil
}

// ProvideCachedReader puts Redis in front of the store reads. Without Redis
// reads go straight to the store: a process-local cache cannot see writes
// made by other processes sharing the database.
func ProvideCachedReader(store repository.Storage, c cache.Service, cfg *config.Config, l *applogger.Logger) *internalrepo.CachedReader {
	if !cfg.Redis.Enabled {
		return internalrepo.NewCachedReader(store, nil, 0, l)
	}
	return internalrepo.NewCachedReader(store, c, cfg.Redis.QueryTTL, l)
}

// ProvideReportPublisher creates the Kafka report publisher, or nil when
// Kafka is disabled.
func ProvideReportPublisher(cfg *config.Config, l *applogger.Logger) (repository.ReportPublisher, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.WriteTimeout),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.AutoCreateTopics),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := internalrepo.NewKafkaReportPublisher(producer, cfg.Kafka.Topic)
	cleanup := func() {
		if err := pub.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return pub, cleanup, nil
}

// ProvideSeriesFetcher creates the rate-limited CoinGecko client.
func ProvideSeriesFetcher(cfg *config.Config, l *applogger.Logger) repository.SeriesFetcher {
	cg := cfg.CoinGecko
	return coingecko.New(coingecko.Config{
		BaseURL:           cg.BaseURL,
		APIKey:            cg.APIKey,
		APIKeyHeader:      cg.APIKeyHeader,
		VsCurrency:        cg.VsCurrency,
		Timeout:           cg.Timeout,
		RequestsPerSecond: cg.RequestsPerSecond,
		Burst:             cg.Burst,
		MaxRetries:        cg.MaxRetries,
		BackoffInitial:    cg.BackoffInitial,
		BackoffMax:        cg.BackoffMax,
		UserAgent:         cg.UserAgent,
	},
		coingecko.WithLogger(l),
		coingecko.WithLimiter(ratelimit.New()),
	)
}

// ProvideIngestUseCase creates the ingestion orchestrator.
func ProvideIngestUseCase(
	store repository.Storage,
	cached *internalrepo.CachedReader,
	pub repository.ReportPublisher,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.IngestUseCase {
	opts := []usecase.IngestOption{
		usecase.WithWorkers(cfg.Ingest.Workers),
		usecase.WithInvalidator(cached),
		usecase.WithIngestLogger(l),
		usecase.WithIngestMetrics(m),
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	return usecase.NewIngestUseCase(store, opts...)
}

// ProvidePricesUseCase creates the read use case over the cached reader.
func ProvidePricesUseCase(cached *internalrepo.CachedReader, m repository.Metrics) *usecase.PricesUseCase {
	return usecase.NewPricesUseCase(cached, cached, m)
}

// ProvideScheduler creates the periodic history ingestion, or nil when no
// interval is configured.
func ProvideScheduler(
	cfg *config.Config,
	uc *usecase.IngestUseCase,
	fetcher repository.SeriesFetcher,
	c cache.Service,
	l *applogger.Logger,
) *usecase.IngestScheduler {
	if cfg.Ingest.ScheduleInterval <= 0 {
		return nil
	}
	return usecase.NewIngestScheduler(uc, fetcher,
		cfg.Ingest.Assets,
		cfg.Ingest.HistoryDays,
		cfg.Ingest.ScheduleInterval,
		usecase.WithLocker(c, cfg.Ingest.LockTTL),
		usecase.WithSchedulerLogger(l),
	)
}

// ProvideHandler creates the echo handler.
func ProvideHandler(
	l *applogger.Logger,
	prices *usecase.PricesUseCase,
	ingest *usecase.IngestUseCase,
	fetcher repository.SeriesFetcher,
	store repository.Storage,
	cfg *config.Config,
) *api.PricesEchoHandler {
	return api.NewPricesEchoHandler(l, prices, ingest, fetcher, store, cfg.Ingest.CSVDir)
}

// ProvideHTTPServer creates the HTTP server around the handler.
func ProvideHTTPServer(cfg *config.Config, h *api.PricesEchoHandler, reg *prometheus.Registry, l *applogger.Logger) *pkghttp.Server {
	opts := []pkghttp.ServerOption{
		pkghttp.WithHost(cfg.Server.Host),
		pkghttp.WithPort(cfg.Server.Port),
		pkghttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		pkghttp.WithLogger(l),
		pkghttp.WithCORS(cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pkghttp.WithMetrics(cfg.Metrics.Path, reg))
	}
	return pkghttp.NewServer(h, opts...)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	store repository.Storage,
	cached *internalrepo.CachedReader,
	ingest *usecase.IngestUseCase,
	prices *usecase.PricesUseCase,
	fetcher repository.SeriesFetcher,
	scheduler *usecase.IngestScheduler,
	httpServer *pkghttp.Server,
) *server.App {
	return server.New(cfg, l, store, cached, ingest, prices, fetcher, scheduler, httpServer)
}
