// Command ybrimport copies the domain popularity tables between the
// YBR-4-xx.idx shard files and the domain_rank table in PostgreSQL.
//
// Usage:
//
//	go run ./cmd/ybrimport -dir data/ranking/YBR            # files -> postgres
//	go run ./cmd/ybrimport -dir data/ranking/YBR -export    # postgres -> files
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/domainrank"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dir := flag.String("dir", "", "shard directory, defaults to domainRank.dir")
	export := flag.Bool("export", false, "write the postgres table back to shard files")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *dir == "" {
		*dir = cfg.DomainRank.Dir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *export {
		err = exportTables(ctx, db, cfg.DomainRank, *dir)
	} else {
		err = importTables(ctx, db, cfg.DomainRank.Shards, *dir)
	}
	if err != nil {
		slog.Error("domain rank copy failed", "error", err)
		os.Exit(1)
	}
}

func importTables(ctx context.Context, db *postgres.Client, n int, dir string) error {
	shards, missing, err := domainrank.ReadDir(dir, n)
	if err != nil {
		return err
	}
	if missing == n {
		return fmt.Errorf("no shard files in %s", dir)
	}
	var stored int
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		n, err := domainrank.StorePostgres(ctx, tx, shards)
		stored = n
		return err
	})
	if err != nil {
		return err
	}
	slog.Info("domain rank imported", "dir", dir, "entries", stored, "missing_shards", missing)
	return nil
}

func exportTables(ctx context.Context, db *postgres.Client, cfg config.DomainRankConfig, dir string) error {
	cfg.Enabled = true
	table := domainrank.LoadPostgres(ctx, db.DB, cfg)
	if !table.Loaded() {
		return fmt.Errorf("domain_rank table could not be read")
	}
	if err := domainrank.WriteDir(dir, table.Shards()); err != nil {
		return err
	}
	slog.Info("domain rank exported", "dir", dir, "sizes", table.Sizes())
	return nil
}
