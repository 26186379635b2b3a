package domainrank

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/metrics"
)

func enabledConfig() config.DomainRankConfig {
	return config.DomainRankConfig{Enabled: true, Source: "files", Shards: DefaultShards}
}

// url hashes are a 6-char path part followed by the 6-char domain part.
const (
	hashPopular = "pathAAdomAAA"
	hashMiddle  = "pathBBdomBBB"
	hashNone    = "pathCCdomCCC"
)

func testShards() [][]string {
	shards := make([][]string, DefaultShards)
	shards[0] = []string{"domZZZ", "domAAA"}
	shards[3] = []string{"domBBB"}
	shards[7] = []string{"domBBB"}
	return shards
}

func TestClassify(t *testing.T) {
	tbl := New(enabledConfig(), testShards())

	tests := []struct {
		hash string
		want int
	}{
		{hashPopular, 0},
		{hashMiddle, 3},
		{hashNone, DefaultShards},
		{"short", DefaultShards},
		{"", DefaultShards},
	}
	for _, tt := range tests {
		if got := tbl.Classify(tt.hash); got != tt.want {
			t.Errorf("Classify(%q) = %d, want %d", tt.hash, got, tt.want)
		}
	}
}

func TestClassifyFallbackWithoutTables(t *testing.T) {
	var nilTable *Table
	if got := nilTable.Classify(hashPopular); got != DefaultShards {
		t.Errorf("nil table: %d", got)
	}
	if got := Disabled(DefaultShards).Classify(hashPopular); got != DefaultShards {
		t.Errorf("disabled table: %d", got)
	}
	empty := New(enabledConfig(), nil)
	if got := empty.Classify(hashPopular); got != DefaultShards {
		t.Errorf("empty table: %d", got)
	}
}

func TestSetEnabled(t *testing.T) {
	tbl := New(enabledConfig(), testShards())
	tbl.SetEnabled(false)
	if got := tbl.Classify(hashPopular); got != tbl.Unknown() {
		t.Errorf("disabled lookup = %d", got)
	}
	tbl.SetEnabled(true)
	if got := tbl.Classify(hashPopular); got != 0 {
		t.Errorf("re-enabled lookup = %d", got)
	}
}

func TestMaxProbe(t *testing.T) {
	cfg := enabledConfig()
	cfg.MaxProbe = 2
	tbl := New(cfg, testShards())
	if got := tbl.Classify(hashPopular); got != 0 {
		t.Errorf("class 0 within probe limit: %d", got)
	}
	if got := tbl.Classify(hashMiddle); got != DefaultShards {
		t.Errorf("class 3 beyond probe limit should be unknown, got %d", got)
	}
}

func TestContribution(t *testing.T) {
	tbl := New(enabledConfig(), testShards())
	if got := tbl.Contribution(hashPopular); got != Width*DefaultShards {
		t.Errorf("class 0 contribution = %d", got)
	}
	if got := tbl.Contribution(hashMiddle); got != Width*(DefaultShards-3) {
		t.Errorf("class 3 contribution = %d", got)
	}
	if got := tbl.Contribution(hashNone); got != 0 {
		t.Errorf("unknown contribution = %d", got)
	}
	if tbl.MaxContribution() != Width*DefaultShards {
		t.Errorf("max = %d", tbl.MaxContribution())
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := WriteDir(dir, testShards()); err != nil {
		t.Fatalf("WriteDir: %v", err)
	}
	cfg := enabledConfig()
	cfg.Dir = dir

	tbl := LoadDir(cfg)
	if got := tbl.Classify(hashPopular); got != 0 {
		t.Errorf("class = %d, want 0", got)
	}
	if got := tbl.Classify(hashMiddle); got != 3 {
		t.Errorf("class = %d, want 3", got)
	}
	sizes := tbl.Sizes()
	if sizes[0] != 2 || sizes[1] != -1 {
		t.Errorf("sizes = %v", sizes)
	}
}

func TestLoadDirFailures(t *testing.T) {
	cfg := enabledConfig()
	cfg.Dir = filepath.Join(t.TempDir(), "absent")
	if LoadDir(cfg).Enabled() {
		t.Error("missing directory must disable the table")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ShardFile(0)), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Dir = dir
	tbl := LoadDir(cfg)
	if tbl.Enabled() {
		t.Error("corrupt shard must disable the table")
	}
	if got := tbl.Classify(hashPopular); got != tbl.Unknown() {
		t.Errorf("class = %d", got)
	}

	cfg.Dir = t.TempDir()
	empty := LoadDir(cfg)
	if empty.Loaded() || empty.Enabled() {
		t.Error("directory without shard files must count as a failed load")
	}

	cfg.Enabled = false
	if LoadDir(cfg).Enabled() {
		t.Error("configuration switch ignored")
	}
}

func TestWriteDirRejectsBadEntries(t *testing.T) {
	err := WriteDir(t.TempDir(), [][]string{{"toolonghash"}})
	if err == nil {
		t.Error("expected error for wrong entry width")
	}
}

type failingQuerier struct{}

func (failingQuerier) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("connection refused")
}

func TestLoadPostgresFailureDisables(t *testing.T) {
	tbl := LoadPostgres(context.Background(), failingQuerier{}, enabledConfig())
	if tbl.Enabled() {
		t.Error("query failure must disable the table")
	}
	if got := tbl.Classify(hashPopular); got != DefaultShards {
		t.Errorf("class = %d", got)
	}
}

func TestClassifyRecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	tbl := New(enabledConfig(), testShards()).WithMetrics(m)
	tbl.Classify(hashPopular)
	tbl.Classify(hashPopular)
	tbl.Classify(hashNone)
	if got := testutil.ToFloat64(m.DomainRankHits.WithLabelValues("0")); got != 2 {
		t.Errorf("class 0 hits = %v", got)
	}
	if got := testutil.ToFloat64(m.DomainRankHits.WithLabelValues("16")); got != 1 {
		t.Errorf("unknown hits = %v", got)
	}
}

func TestShardsRoundTrip(t *testing.T) {
	tbl := New(enabledConfig(), testShards())
	shards := tbl.Shards()
	if shards[0][0] != "domAAA" || shards[1] != nil {
		t.Fatalf("shards = %v", shards[:4])
	}
	shards[0][0] = "mutate"
	if tbl.Classify(hashPopular) != 0 {
		t.Error("Shards must return a copy")
	}

	dir := t.TempDir()
	if err := WriteDir(dir, tbl.Shards()); err != nil {
		t.Fatal(err)
	}
	back, missing, err := ReadDir(dir, DefaultShards)
	if err != nil {
		t.Fatal(err)
	}
	if missing != DefaultShards-3 || len(back[3]) != 1 {
		t.Errorf("missing = %d, shard 3 = %v", missing, back[3])
	}
	if Disabled(4).Shards() != nil {
		t.Error("disabled table has no shards")
	}
}
