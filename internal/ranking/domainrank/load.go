package domainrank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
)

// ShardFile is the file name of shard i inside a table directory.
func ShardFile(i int) string {
	return fmt.Sprintf("YBR-4-%02x.idx", i)
}

// LoadDir reads cfg.Shards shard files from cfg.Dir. A missing shard file
// leaves that class empty; a directory with none of them, or any other failure, is logged and yields a disabled
// table, so callers always get a usable value.
func LoadDir(cfg config.DomainRankConfig) *Table {
	logger := slog.Default().With("component", "domain-rank")
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}

	if !cfg.Enabled {
		logger.Info("domain rank disabled by configuration")
		return Disabled(n)
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil || !info.IsDir() {
		logger.Warn("domain rank tables unavailable, feature disabled", "dir", cfg.Dir, "error", err)
		return Disabled(n)
	}

	shards, missing, err := ReadDir(cfg.Dir, n)
	if err != nil {
		logger.Warn("domain rank load failed, feature disabled", "error", err)
		return Disabled(n)
	}
	if missing == n {
		logger.Warn("no domain rank shard files found, feature disabled", "dir", cfg.Dir, "shards", n)
		return Disabled(n)
	}

	t := New(cfg, shards)
	logger.Info("domain rank tables loaded", "dir", cfg.Dir, "shards", n, "missing", missing)
	return t
}

// ReadDir reads shard files 0..n-1 from dir. Missing files are counted and
// left nil.
func ReadDir(dir string, n int) (shards [][]string, missing int, err error) {
	shards = make([][]string, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, ShardFile(i))
		entries, err := readShard(path)
		if errors.Is(err, fs.ErrNotExist) {
			missing++
			continue
		}
		if err != nil {
			return nil, missing, fmt.Errorf("reading %s: %w", path, err)
		}
		shards[i] = entries
	}
	return shards, missing, nil
}

func readShard(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%HashLength != 0 {
		return nil, fmt.Errorf("shard size %d is not a multiple of %d", len(data), HashLength)
	}
	entries := make([]string, 0, len(data)/HashLength)
	for off := 0; off < len(data); off += HashLength {
		entries = append(entries, string(data[off:off+HashLength]))
	}
	return entries, nil
}

// WriteDir stores shards as shard files under dir, skipping nil shards.
func WriteDir(dir string, shards [][]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for i, shard := range shards {
		if shard == nil {
			continue
		}
		buf := make([]byte, 0, len(shard)*HashLength)
		for _, h := range shard {
			if len(h) != HashLength {
				return fmt.Errorf("shard %d: entry %q is not %d bytes", i, h, HashLength)
			}
			buf = append(buf, h...)
		}
		if err := os.WriteFile(filepath.Join(dir, ShardFile(i)), buf, 0o644); err != nil {
			return fmt.Errorf("writing shard %d: %w", i, err)
		}
	}
	return nil
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const selectShards = `SELECT class, domain_hash FROM domain_rank WHERE class < $1 ORDER BY class, domain_hash`

// LoadPostgres reads the shards from the domain_rank table. Like LoadDir it
// degrades to a disabled table on failure.
func LoadPostgres(ctx context.Context, q Querier, cfg config.DomainRankConfig) *Table {
	logger := slog.Default().With("component", "domain-rank")
	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
	}
	if !cfg.Enabled {
		return Disabled(n)
	}

	shards, err := queryShards(ctx, q, n)
	if err != nil {
		logger.Warn("domain rank load failed, feature disabled", "source", "postgres", "error", err)
		return Disabled(n)
	}
	logger.Info("domain rank tables loaded", "source", "postgres", "shards", n)
	return New(cfg, shards)
}

func queryShards(ctx context.Context, q Querier, n int) ([][]string, error) {
	rows, err := q.QueryContext(ctx, selectShards, n)
	if err != nil {
		return nil, fmt.Errorf("querying domain_rank: %w", err)
	}
	defer rows.Close()

	shards := make([][]string, n)
	for rows.Next() {
		var class int
		var hash string
		if err := rows.Scan(&class, &hash); err != nil {
			return nil, fmt.Errorf("scanning domain_rank row: %w", err)
		}
		if class < 0 || class >= n || len(hash) != HashLength {
			continue
		}
		shards[class] = append(shards[class], hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating domain_rank: %w", err)
	}
	return shards, nil
}

// Execer is satisfied by *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StorePostgres replaces the contents of the domain_rank table with shards.
// Run it inside a transaction.
func StorePostgres(ctx context.Context, ex Execer, shards [][]string) (int, error) {
	if _, err := ex.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS domain_rank (
		class SMALLINT NOT NULL,
		domain_hash CHAR(6) NOT NULL,
		PRIMARY KEY (class, domain_hash))`); err != nil {
		return 0, fmt.Errorf("creating domain_rank: %w", err)
	}
	if _, err := ex.ExecContext(ctx, `DELETE FROM domain_rank`); err != nil {
		return 0, fmt.Errorf("clearing domain_rank: %w", err)
	}
	stored := 0
	for class, shard := range shards {
		for _, h := range shard {
			if _, err := ex.ExecContext(ctx,
				`INSERT INTO domain_rank (class, domain_hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				class, h); err != nil {
				return stored, fmt.Errorf("inserting class %d: %w", class, err)
			}
			stored++
		}
	}
	return stored, nil
}
