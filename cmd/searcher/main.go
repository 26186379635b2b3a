package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/domainrank"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/session"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/searcher/source"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	docsPath := flag.String("docs", "", "optional JSON file of documents to index at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search node",
		"port", cfg.Server.Port,
		"rpc_addr", cfg.RPC.Addr,
		"peers", len(cfg.Peers.Addrs),
		"profile", cfg.Ranking.Profile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	if cfg.Metrics.Enabled {
		metricsServer, err := metrics.StartServer(cfg.Metrics.Port, nil)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer metricsServer.Shutdown(context.Background())
	}

	domains := loadDomainRank(ctx, cfg).WithMetrics(m)

	idx := index.NewMemoryIndex()
	if *docsPath != "" {
		n, err := seedIndex(idx, *docsPath)
		if err != nil {
			slog.Error("failed to seed index", "path", *docsPath, "error", err)
			os.Exit(1)
		}
		slog.Info("index seeded", "documents", n)
	}

	var peerCache *cache.PeerCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, peer batch caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			peerCache = cache.New(redisClient, cfg.Redis, m)
			slog.Info("peer batch cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	aggregator := analytics.NewAggregator()
	statsHandler := analytics.NewHandler(aggregator)
	var tracker session.Tracker = aggregator
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.MergeEvents).WithMetrics(m)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 10000, 100, 2*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector

		eventConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.MergeEvents, analytics.HandleEvent(aggregator)).WithMetrics(m)
		defer eventConsumer.Close()
		statsHandler.WithConsumer(eventConsumer.Stats)
		go func() {
			if err := eventConsumer.Start(ctx); err != nil {
				slog.Error("merge event consumer error", "error", err)
			}
		}()

		docConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Documents, consumer.HandleMessage(idx)).WithMetrics(m)
		defer docConsumer.Close()
		go func() {
			if err := consumer.New(docConsumer).Start(ctx); err != nil {
				slog.Error("document consumer error", "error", err)
			}
		}()
		slog.Info("kafka pipelines started",
			"merge_events", cfg.Kafka.Topics.MergeEvents,
			"documents", cfg.Kafka.Topics.Documents,
		)
	}

	if cfg.RPC.Enabled {
		serverProfile, err := profile.Parse(cfg.Ranking.Profile, domains)
		if err != nil {
			slog.Error("invalid ranking profile", "error", err)
			os.Exit(1)
		}
		rpcServer := rpc.NewServer()
		source.NewServer("local", idx, serverProfile, cfg.Ranking.MaxResults).Register(rpcServer)
		go func() {
			if err := rpcServer.Serve(cfg.RPC.Addr); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
		defer rpcServer.Stop()
	}

	sources := []source.Source{source.NewLocal("local", idx)}
	peers := make([]*source.Peer, 0, len(cfg.Peers.Addrs))
	for _, addr := range cfg.Peers.Addrs {
		p := source.NewPeer(addr, cfg.Peers, peerCache, m)
		defer p.Close()
		peers = append(peers, p)
		sources = append(sources, p)
	}

	checker := health.NewChecker(3 * time.Second)
	checker.Register("local_index", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents", idx.DocCount())}
	})
	checker.Register("domain_rank", func(ctx context.Context) health.ComponentHealth {
		switch {
		case domains.Enabled():
			return health.ComponentHealth{Status: health.StatusUp}
		case domains.Loaded():
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "switched off"}
		default:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not loaded"}
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient, health.StatusDegraded))
	}
	for _, p := range peers {
		checker.Register("peer:"+p.Name(), func(ctx context.Context) health.ComponentHealth {
			if p.Breaker().GetState() == resilience.StateOpen {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit open"}
			}
			return health.PingCheck(p, health.StatusDegraded)(ctx)
		})
	}

	h, err := handler.New(cfg, domains, sources, peerCache, tracker, m)
	if err != nil {
		slog.Error("failed to create search handler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	h.Routes(mux)
	statsHandler.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, cfg.Server.RateWindow)
		go limiter.Cleanup(ctx, time.Minute)
		chain = ratelimit.Middleware(limiter, "/api/v1/search")(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.Recover(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search node listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search node stopped")
}

func loadDomainRank(ctx context.Context, cfg *config.Config) *domainrank.Table {
	if cfg.DomainRank.Source != "postgres" || !cfg.DomainRank.Enabled {
		return domainrank.LoadDir(cfg.DomainRank)
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, domain rank disabled", "error", err)
		return domainrank.Disabled(cfg.DomainRank.Shards)
	}
	defer db.Close()
	return domainrank.LoadPostgres(ctx, db.DB, cfg.DomainRank)
}

func seedIndex(idx *index.MemoryIndex, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var docs []index.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	n := 0
	for _, doc := range docs {
		if _, err := idx.AddDocument(doc); err != nil {
			slog.Warn("skipping document", "url", doc.URL, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
