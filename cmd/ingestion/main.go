// Command ingestion starts the document feed service.
//
// Crawlers POST documents to /api/v1/documents and DELETE them by url. Each
// request is validated and published to the documents topic, from which
// every search node's index consumer picks it up.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/node.yaml] [-port 8085]
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

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 8085, "HTTP port of the feed service")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting document feed service", "port", *port)

	m := metrics.New(nil)
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Documents).WithMetrics(m)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.Documents)

	mux := http.NewServeMux()
	handler.New(publisher.New(producer)).Routes(mux)
	mux.Handle("GET /metrics", metrics.Handler(nil))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      middleware.Recover(middleware.RequestID(middleware.Metrics(m)(mux))),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("document feed listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("document feed stopped")
}
