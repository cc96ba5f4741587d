package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tideline-analytics/tideline/internal/cache"
	"github.com/tideline-analytics/tideline/internal/config"
	"github.com/tideline-analytics/tideline/internal/core/storage/postgres"
	"github.com/tideline-analytics/tideline/internal/ingestion"
	"github.com/tideline-analytics/tideline/internal/migrations"
	"github.com/tideline-analytics/tideline/internal/queue"
	"github.com/tideline-analytics/tideline/internal/rollup"
	"github.com/tideline-analytics/tideline/internal/server"
	"github.com/tideline-analytics/tideline/internal/summary"
	"github.com/tideline-analytics/tideline/internal/worker"
)

func main() {
	configPath := flag.String("config", "tideline.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	rollupAdapter := postgres.NewRollupAdapter(dbAdapter.DB())

	// 3. Initialize Summary Cache (optional)
	var summaryCache *cache.SummaryCache
	var cacheState func() string
	if cfg.Redis.Addr != "" {
		summaryCache = cache.New(cfg.Redis.Addr)
		defer summaryCache.Close()
		cacheState = func() string { return summaryCache.State().String() }
	} else {
		slog.Info("Summary cache disabled (no redis addr configured)")
	}

	// 4. Initialize Queue Transport
	wmLogger := watermill.NewSlogLogger(logger)
	publisher, subscriber, err := buildQueue(cfg.Queue, wmLogger)
	if err != nil {
		slog.Error("Failed to initialize queue transport", "driver", cfg.Queue.Driver, "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	defer subscriber.Close()

	// 5. Initialize Write Path
	writer := ingestion.NewWriter(dbAdapter)
	maintainer := rollup.NewMaintainer(rollupAdapter)
	pipeline := ingestion.NewPipeline(writer, maintainer)
	enqueuer := queue.NewEnqueuer(publisher, cfg.Queue.Topic)

	ingestionSvc := ingestion.NewService(pipeline, enqueuer, cfg.Server.MaxBodySizeMB, cfg.Ingest.MaxBatchSize)

	// 6. Initialize Read Path
	summarySvc := summary.NewService(dbAdapter, rollupAdapter, summaryCacheOrNil(summaryCache))
	if ttl, err := cfg.Redis.SummaryTTLDuration(); err == nil {
		summarySvc.SetCacheTTL(ttl)
	}

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode, cacheState)
	ingestionSvc.RegisterRoutes(srv.Engine)
	summarySvc.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ingestWorker *worker.Worker
	if cfg.Worker.Enabled {
		ingestWorker = worker.New(subscriber, pipeline, cfg.Queue.Topic, cfg.Worker.Concurrency)
		if err := ingestWorker.Start(ctx); err != nil {
			slog.Error("Failed to start ingestion worker", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("Ingestion worker disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	if ingestWorker != nil {
		ingestWorker.Wait()
	}

	slog.Info("Shutdown complete")
}

// buildQueue constructs the configured queue transport. The gochannel
// driver shares one in-process pub/sub pair; nats connects publisher and
// subscriber separately.
func buildQueue(cfg config.QueueConfig, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	switch cfg.Driver {
	case "gochannel":
		pub, sub := queue.NewInProcess(logger)
		return pub, sub, nil
	case "nats":
		ackWait, err := cfg.AckWaitDuration()
		if err != nil {
			return nil, nil, err
		}
		natsCfg := queue.NATSConfig{
			URL:           cfg.URL,
			QueueGroup:    cfg.QueueGroup,
			AckWait:       ackWait,
			MaxReconnects: cfg.MaxReconnects,
		}
		pub, err := queue.NewNATSPublisher(natsCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		sub, err := queue.NewNATSSubscriber(natsCfg, logger)
		if err != nil {
			pub.Close()
			return nil, nil, err
		}
		return pub, sub, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// summaryCacheOrNil avoids handing the summary service a typed nil.
func summaryCacheOrNil(c *cache.SummaryCache) summary.Cache {
	if c == nil {
		return nil
	}
	return c
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
