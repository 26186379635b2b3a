package container

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/profile"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
)

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	prof, err := profile.Parse("quality,freshness,domain", nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(prof)
}

func assertSorted(t *testing.T, entries []Entry) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Score < entries[i].Score {
			t.Fatalf("entries out of order at %d: %d < %d", i, entries[i-1].Score, entries[i].Score)
		}
	}
}

func TestEndToEndQualityDominates(t *testing.T) {
	c := newTestContainer(t)
	a := posting.Posting{URLHash: "u1", Quality: 10, VirtualAge: 5}
	b := posting.Posting{URLHash: "u2", Quality: 1, VirtualAge: 1}
	dupe := posting.Posting{URLHash: "u1", Quality: 99, VirtualAge: 99}

	if err := c.Insert(a, true); err != nil {
		t.Fatalf("insert A: %v", err)
	}
	if err := c.Insert(b, false); err != nil {
		t.Fatalf("insert B: %v", err)
	}
	if err := c.Insert(dupe, false); !errors.Is(err, apperrors.ErrDuplicate) {
		t.Fatalf("insert C: err = %v, want ErrDuplicate", err)
	}

	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
	first, _ := c.Next()
	second, _ := c.Next()
	if first.Posting.URLHash != "u1" || second.Posting.URLHash != "u2" {
		t.Errorf("order = %s, %s; want u1, u2", first.Posting.URLHash, second.Posting.URLHash)
	}
	if first.Posting.Quality != 10 {
		t.Error("duplicate must not replace the stored posting")
	}
	local, global := c.ResultCounts()
	if local != 1 || global != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", local, global)
	}
}

func TestDedupInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		c := newTestContainer(t)
		distinct := make(map[string]bool)
		for i := 0; i < 300; i++ {
			hash := fmt.Sprintf("hash%08d", rng.Intn(120))
			distinct[hash] = true
			_ = c.Insert(posting.Posting{
				URLHash:    hash,
				Quality:    rng.Intn(100),
				VirtualAge: rng.Intn(20000),
				HitCount:   rng.Intn(10),
			}, rng.Intn(2) == 0)
		}
		if c.Size() != len(distinct) {
			t.Fatalf("round %d: size = %d, distinct = %d", round, c.Size(), len(distinct))
		}
		local, global := c.ResultCounts()
		if local+global != len(distinct) {
			t.Fatalf("round %d: counts %d+%d != %d", round, local, global, len(distinct))
		}
		assertSorted(t, c.Top(-1))
	}
}

func TestInsertRejectsInvalid(t *testing.T) {
	c := newTestContainer(t)
	err := c.Insert(posting.Posting{Quality: 5}, true)
	if !errors.Is(err, apperrors.ErrInvalidPosting) {
		t.Fatalf("err = %v", err)
	}
	if c.Size() != 0 || !c.Bounds().Empty() {
		t.Error("invalid posting must leave the container untouched")
	}
}

func TestInsertAllContinuesPastBadPostings(t *testing.T) {
	c := newTestContainer(t)
	res, err := c.InsertAll([]posting.Posting{
		{URLHash: "a", Quality: 3},
		{URLHash: ""},
		{URLHash: "b", Quality: 7},
		{URLHash: "a", Quality: 9},
		{URLHash: "c", Quality: 1},
	}, false)
	if err != nil {
		t.Fatalf("InsertAll: %v", err)
	}
	want := BatchResult{Inserted: 3, Duplicates: 1, Invalid: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
}

func TestEqualScoresKeepInsertionOrder(t *testing.T) {
	c := newTestContainer(t)
	for i := 0; i < 20; i++ {
		if err := c.Insert(posting.Posting{URLHash: fmt.Sprintf("same%02d", i)}, true); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 20; i++ {
		e, ok := c.Next()
		if !ok {
			t.Fatal("container drained early")
		}
		if want := fmt.Sprintf("same%02d", i); e.Posting.URLHash != want {
			t.Fatalf("position %d = %s, want %s", i, e.Posting.URLHash, want)
		}
	}
}

func TestInsertionPointAcrossThreshold(t *testing.T) {
	c := newTestContainer(t)
	for _, s := range []int64{90, 80, 80, 70, 60, 50, 40, 30, 20, 20, 10, 5} {
		c.entries = append(c.entries, Entry{Score: s})
	}
	tests := []struct {
		score int64
		want  int
	}{
		{100, 0},
		{90, 1},
		{80, 3},
		{65, 4},
		{20, 10},
		{1, 12},
	}
	for _, tt := range tests {
		if got := c.insertionPoint(tt.score); got != tt.want {
			t.Errorf("insertionPoint(%d) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestNextKeepsHashKnown(t *testing.T) {
	c := newTestContainer(t)
	_ = c.Insert(posting.Posting{URLHash: "x"}, false)
	if _, ok := c.Next(); !ok {
		t.Fatal("expected an entry")
	}
	if _, ok := c.Next(); ok {
		t.Fatal("container should be empty")
	}
	if err := c.Insert(posting.Posting{URLHash: "x"}, false); !errors.Is(err, apperrors.ErrDuplicate) {
		t.Errorf("reinsert after drain: err = %v, want ErrDuplicate", err)
	}
}

func TestRemove(t *testing.T) {
	c := newTestContainer(t)
	for _, h := range []string{"a", "b", "c", "d"} {
		_ = c.Insert(posting.Posting{URLHash: h}, true)
	}

	p, ok := c.Remove("b")
	if !ok || p.URLHash != "b" {
		t.Fatalf("Remove(b) = %+v, %v", p, ok)
	}
	if _, ok := c.Remove("b"); ok {
		t.Error("second Remove(b) should miss")
	}
	if c.Contains("b") {
		t.Error("removed hash still known")
	}
	if err := c.Insert(posting.Posting{URLHash: "b"}, true); err != nil {
		t.Errorf("reinsert after Remove: %v", err)
	}

	if n := c.RemoveMany("a", "c", "zz"); n != 2 {
		t.Errorf("RemoveMany = %d, want 2", n)
	}
	if c.Size() != 2 {
		t.Errorf("size = %d, want 2", c.Size())
	}
	if c.RemoveMany() != 0 {
		t.Error("empty RemoveMany should be a no-op")
	}
}

func rankedContainer(t *testing.T, hashes ...string) *Container {
	t.Helper()
	src := newTestContainer(t)
	for i, h := range hashes {
		if err := src.Insert(posting.Posting{URLHash: h, Quality: 100 - i}, false); err != nil {
			t.Fatal(err)
		}
	}
	return src
}

func TestInsertContainerAdoptsPresorted(t *testing.T) {
	src := rankedContainer(t, "p1", "p2", "p3")
	want := src.Top(-1)

	dst := newTestContainer(t)
	res, err := dst.InsertContainer(src, false, true)
	if err != nil {
		t.Fatalf("InsertContainer: %v", err)
	}
	if res.Inserted != 3 {
		t.Fatalf("inserted = %d", res.Inserted)
	}
	got := dst.Top(-1)
	for i := range want {
		if got[i].Posting.URLHash != want[i].Posting.URLHash || got[i].Score != want[i].Score {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if _, global := dst.ResultCounts(); global != 3 {
		t.Errorf("global = %d", global)
	}
	if dst.Bounds().Observed() != src.Bounds().Observed() {
		t.Error("adopted container must take over the source bounds")
	}
}

func TestInsertContainerMergesWhenNotEmpty(t *testing.T) {
	dst := rankedContainer(t, "p1", "x1")
	src := rankedContainer(t, "p1", "p2", "p3")

	res, err := dst.InsertContainer(src, true, true)
	if err != nil {
		t.Fatalf("InsertContainer: %v", err)
	}
	if res.Inserted != 2 || res.Duplicates != 1 {
		t.Errorf("result = %+v", res)
	}
	if dst.Size() != 4 {
		t.Errorf("size = %d", dst.Size())
	}
	assertSorted(t, dst.Top(-1))
}

func TestInsertContainerIntoItself(t *testing.T) {
	c := rankedContainer(t, "a")
	if _, err := c.InsertContainer(c, true, true); !errors.Is(err, apperrors.ErrInternal) {
		t.Errorf("err = %v, want ErrInternal", err)
	}
}

func TestNewSortedRejectsDisorder(t *testing.T) {
	prof := profile.Default(nil)
	_, err := NewSorted(prof, []Entry{
		{Posting: posting.Posting{URLHash: "a"}, Score: 1},
		{Posting: posting.Posting{URLHash: "b"}, Score: 5},
	}, posting.Bounds{})
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Errorf("err = %v, want ErrInternal", err)
	}
	_, err = NewSorted(prof, []Entry{
		{Posting: posting.Posting{URLHash: "a"}, Score: 5},
		{Posting: posting.Posting{URLHash: "a"}, Score: 1},
	}, posting.Bounds{})
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Errorf("duplicate: err = %v, want ErrInternal", err)
	}
}

func BenchmarkInsert(b *testing.B) {
	prof := profile.Default(nil)
	rng := rand.New(rand.NewSource(1))
	postings := make([]posting.Posting, 10000)
	for i := range postings {
		postings[i] = posting.Posting{
			URLHash:    fmt.Sprintf("%012d", i),
			Quality:    rng.Intn(1000),
			VirtualAge: rng.Intn(20000),
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c := New(prof)
		_, _ = c.InsertAll(postings, true)
	}
}
