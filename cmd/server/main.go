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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/scout-progress/internal/config"
	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/handler"
	"github.com/scout-progress/internal/kafka"
	"github.com/scout-progress/internal/ledger"
	"github.com/scout-progress/internal/memory"
	"github.com/scout-progress/internal/metrics"
	"github.com/scout-progress/internal/postgres"
	"github.com/scout-progress/internal/redis"
	"github.com/scout-progress/internal/service"
	"github.com/scout-progress/internal/websocket"
	"github.com/scout-progress/internal/worker"
)

// catalogStore is the primary curriculum catalog that seeds are written to
type catalogStore interface {
	service.CurriculumCatalog
	UpsertItems(ctx context.Context, items []domain.CurriculumItem) error
}

// backends holds the stores selected by storage.driver
type backends struct {
	profiles service.ProfileStore
	ledger   service.SubmissionLedger
	catalog  catalogStore
	pg       *postgres.Repository
	redis    *goredis.Client
	notifier *redis.Notifier
}

func (b *backends) close() {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.pg != nil {
		b.pg.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, feed *ledger.Feed, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Redis.Enabled || cfg.Storage.Driver == config.DriverRedis {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.notifier = redis.NewNotifier(client, logger)
		logger.Info("connected to Redis")
	}

	// verified submissions reach the local feed directly, or through pub/sub
	// when several instances share Redis
	var notifier ledger.Notifier = feed
	if b.notifier != nil {
		notifier = b.notifier
	}

	if cfg.Storage.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, state is lost on restart")
		b.profiles = memory.NewProfileStore()
		b.ledger = memory.NewLedger(feed, notifier, logger)
		b.catalog = memory.NewCatalog(nil)
		return b, nil
	}

	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		b.close()
		return nil, err
	}
	b.pg = repo
	logger.Info("connected to PostgreSQL")

	if err := repo.RunMigrations(ctx); err != nil {
		b.close()
		return nil, err
	}

	b.ledger = postgres.NewLedger(repo, feed, notifier, logger)
	b.catalog = postgres.NewCatalog(repo)

	switch cfg.Storage.Driver {
	case config.DriverRedis:
		b.profiles = redis.NewProfileStore(b.redis, cfg.Storage.TxRetries)
	case config.DriverPostgres:
		b.profiles = postgres.NewProfileStore(repo)
	default:
		b.close()
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return b, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	rules, err := cfg.Engine.Rules(cfg.Curriculum)
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := ledger.NewFeed()
	b, err := openBackends(ctx, cfg, feed, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer b.close()
	logger.Info("storage ready", "driver", cfg.Storage.Driver)

	if cfg.Curriculum.SeedFile != "" {
		items, err := config.LoadCurriculumSeed(cfg.Curriculum.SeedFile)
		if err != nil {
			logger.Error("failed to load curriculum seed", "error", err)
			os.Exit(1)
		}
		if err := b.catalog.UpsertItems(ctx, items); err != nil {
			logger.Error("failed to seed curriculum", "error", err)
			os.Exit(1)
		}
		logger.Info("curriculum seeded", "items", len(items), "file", cfg.Curriculum.SeedFile)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []service.Option{service.WithMetrics(metrics.New(reg))}

	var catalog service.CurriculumCatalog = b.catalog
	var refresher *worker.CatalogRefresher
	if b.redis != nil {
		catalogCache := redis.NewCatalogCache(b.redis, b.catalog, cfg.Redis.CatalogTTL, logger)
		catalog = catalogCache
		opts = append(opts, service.WithBadgeCache(redis.NewBadgeCache(b.redis, cfg.Redis.BadgeTTL)))

		refresher = worker.NewCatalogRefresher(catalogCache, &cfg.Sync, logger)
		refresher.RunOnce(ctx)
		if cfg.Sync.Enabled {
			if err := refresher.Start(ctx); err != nil {
				logger.Error("failed to start catalog refresher", "error", err)
				os.Exit(1)
			}
		}
	}

	progressService := service.NewProgressService(b.profiles, b.ledger, catalog, rules, logger, opts...)

	wsHub := websocket.NewHub(progressService, logger)
	go wsHub.Run()
	progressService.SetPublisher(wsHub)
	logger.Info("WebSocket hub initialized")

	if b.notifier != nil {
		ready := make(chan struct{})
		go func() {
			if err := b.notifier.Listen(ctx, feed, ready); err != nil {
				logger.Error("verified submission listener stopped", "error", err)
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			logger.Warn("verified submission listener not confirmed, live badge updates may be delayed")
		}
	}

	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, progressService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(progressService, wsHub, reg, logger)
	if b.pg != nil {
		httpHandler.AddReadinessCheck("postgres", b.pg.Ping)
	}
	if b.redis != nil {
		httpHandler.AddReadinessCheck("redis", func(ctx context.Context) error {
			return b.redis.Ping(ctx).Err()
		})
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if refresher != nil {
		if err := refresher.Stop(); err != nil {
			logger.Error("failed to stop catalog refresher", "error", err)
		}
	}

	wsHub.Stop()
	cancel()

	logger.Info("server stopped")
}
