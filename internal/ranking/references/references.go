// Package references finds related search terms by counting words in the
// urls and titles of a query's best results.
package references

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/config"
)

// urlStopWords are words too common in urls to say anything about a topic.
var urlStopWords = []string{
	"http", "https", "html", "htm", "php", "asp", "ftp", "www",
	"com", "org", "net", "gov", "edu", "index", "home", "page",
	"for", "usage", "the", "and",
	"zum", "der", "die", "das", "und", "zur", "bzw", "mit",
	"blog", "wiki", "aus", "bei", "off",
}

const defaultMinLength = 3

// TermCount is a candidate term and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// Scorer is a frequency counter over one query's result words. It is not safe
// for concurrent use.
type Scorer struct {
	minLength int
	stop      map[string]struct{}
	query     map[uint64]struct{}
	counts    map[string]int
}

// New returns a scorer that ignores the given query terms.
func New(cfg config.ReferencesConfig, queryTerms []string) *Scorer {
	minLength := cfg.MinLength
	if minLength <= 0 {
		minLength = defaultMinLength
	}
	s := &Scorer{
		minLength: minLength,
		stop:      make(map[string]struct{}, len(urlStopWords)+len(cfg.StopWords)),
		query:     make(map[uint64]struct{}, len(queryTerms)),
		counts:    make(map[string]int),
	}
	for _, w := range urlStopWords {
		s.stop[w] = struct{}{}
	}
	for _, w := range cfg.StopWords {
		s.stop[strings.ToLower(w)] = struct{}{}
	}
	for _, q := range queryTerms {
		s.query[termHash(q)] = struct{}{}
	}
	return s
}

func termHash(term string) uint64 {
	return xxhash.Sum64String(strings.ToLower(term))
}

// AddTerms counts every token that is long enough, made of letters only,
// not a stop-word and not a query term.
func (s *Scorer) AddTerms(tokens []string) {
	for _, tok := range tokens {
		term := strings.ToLower(tok)
		if !s.accept(term) {
			continue
		}
		s.counts[term]++
	}
}

func (s *Scorer) accept(term string) bool {
	if len(term) < s.minLength || !isLetters(term) {
		return false
	}
	if _, stop := s.stop[term]; stop {
		return false
	}
	if tokenizer.IsStopWord(term) {
		return false
	}
	_, isQuery := s.query[termHash(term)]
	return !isQuery
}

func isLetters(term string) bool {
	for i := 0; i < len(term); i++ {
		if c := term[i]; c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// TopTerms returns up to k terms seen at least twice, most frequent first and
// alphabetical among equals. k <= 0 returns all of them.
func (s *Scorer) TopTerms(k int) []TermCount {
	out := make([]TermCount, 0, len(s.counts))
	for term, n := range s.counts {
		if n < 2 {
			continue
		}
		out = append(out, TermCount{Term: term, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Len is the number of distinct counted terms.
func (s *Scorer) Len() int {
	return len(s.counts)
}

// URLWords splits the host and path of rawURL into words. Query strings and
// fragments are ignored.
func URLWords(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return splitLetters(u.Hostname() + "/" + u.EscapedPath())
}

// TitleWords splits a title on whitespace and punctuation, case-folded.
func TitleWords(title string) []string {
	return tokenizer.Words(title)
}

func splitLetters(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r < 'a' || r > 'z'
	})
}
