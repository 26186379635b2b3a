package tokenizer

import (
	"reflect"
	"testing"
)

func TestTokenizeKeepsTextPositions(t *testing.T) {
	tokens := Tokenize("The quick brown fox and the lazy dog")
	want := []Token{
		{"quick", 1},
		{"brown", 2},
		{"fox", 3},
		{"lazy", 6},
		{"dog", 7},
	}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("Tokenize = %v, want %v", tokens, want)
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"searching", "search"},
		{"engines", "engin"},
		{"ranking", "rank"},
		{"peers", "peer"},
		{"go", "go"},
	}
	for _, tt := range tests {
		if got := stem(tt.in); got != tt.want {
			t.Errorf("stem(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQueryTerms(t *testing.T) {
	got := QueryTerms("Search the search engines, SEARCH!")
	want := []string{"search", "engin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QueryTerms = %v, want %v", got, want)
	}
}

func TestWords(t *testing.T) {
	got := Words("Peer-to-Peer Search: v2.0")
	want := []string{"peer", "to", "peer", "search", "v2", "0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words = %v, want %v", got, want)
	}
}
