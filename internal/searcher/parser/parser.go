// Package parser turns a raw query string into the terms, exclusions and
// join mode used by every posting source.
package parser

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/proto"
)

type QueryPlan struct {
	Terms        []string
	Mode         index.Mode
	ExcludeTerms []string
	RawQuery     string
}

// Parse reads AND, OR and NOT as operators; every other word is stemmed the
// way the index stems document text. A word that stems to nothing, such as a
// stop-word, is dropped. Repeated terms are kept once.
func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]string, 0),
		ExcludeTerms: make([]string, 0),
		Mode:         index.ModeAND,
		RawQuery:     query,
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	seen := make(map[string]struct{})
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch word {
		case "AND":
			plan.Mode = index.ModeAND
			continue
		case "OR":
			plan.Mode = index.ModeOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		if strings.HasPrefix(word, "-") && len(word) > 1 {
			word = word[1:]
			excludeNext = true
		}
		tokens := tokenizer.Tokenize(word)
		if len(tokens) == 0 {
			excludeNext = false
			continue
		}
		term := tokens[0].Term
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			excludeNext = false
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		plan.Terms = append(plan.Terms, term)
	}
	return plan
}

// Empty reports whether the plan has nothing to look up.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// WireMode is the mode name used on the peer protocol.
func (p *QueryPlan) WireMode() string {
	if p.Mode == index.ModeOR {
		return proto.ModeOR
	}
	return proto.ModeAND
}

// ModeFromWire maps a protocol mode name back to a join mode. Unknown names
// join with AND.
func ModeFromWire(mode string) index.Mode {
	if strings.EqualFold(mode, proto.ModeOR) {
		return index.ModeOR
	}
	return index.ModeAND
}

// Key is a normalized form of the plan: two queries that differ only in term
// order or case share a key.
func (p *QueryPlan) Key() string {
	terms := append([]string(nil), p.Terms...)
	excludes := append([]string(nil), p.ExcludeTerms...)
	sort.Strings(terms)
	sort.Strings(excludes)
	parts := []string{p.WireMode(), strings.Join(terms, ",")}
	if len(excludes) > 0 {
		parts = append(parts, "NOT:"+strings.Join(excludes, ","))
	}
	return strings.Join(parts, "|")
}
