// Command analytics starts the standalone merge analytics service.
//
// It consumes the merge events every search node publishes, aggregates them
// in memory and serves the totals, latency percentiles, failing sources and
// top queries at GET /api/v1/admin/stats.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/node.yaml] [-port 8095]
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

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 8095, "HTTP port of the analytics service")
	group := flag.String("group", "merge-analytics", "Kafka consumer group")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", *port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A separate group so every event reaches this service as well as the
	// nodes' own aggregators.
	kcfg := cfg.Kafka
	kcfg.ConsumerGroup = *group
	m := metrics.New(nil)
	aggregator := analytics.NewAggregator()
	consumer := kafka.NewConsumer(kcfg, kcfg.Topics.MergeEvents, analytics.HandleEvent(aggregator)).WithMetrics(m)
	defer consumer.Close()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("merge event consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", kcfg.Topics.MergeEvents, "group", kcfg.ConsumerGroup)

	checker := health.NewChecker(2 * time.Second)
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		stats := consumer.Stats()
		seen := stats.Processed + stats.Malformed + stats.Failed
		switch {
		case seen == 0:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no merge events yet"}
		case stats.Failed > 0 && stats.Processed == 0:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: fmt.Sprintf("%d events failed, none processed", stats.Failed)}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d events, %d malformed", stats.Processed, stats.Malformed)}
	})

	mux := http.NewServeMux()
	analytics.NewHandler(aggregator).WithConsumer(consumer.Stats).Routes(mux)
	mux.Handle("GET /metrics", metrics.Handler(nil))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.Recover(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
