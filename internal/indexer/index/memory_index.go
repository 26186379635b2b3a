// Package index holds the node's own documents in memory as a term to
// occurrence map and turns query terms into ranking postings.
package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ranking/posting"
	apperrors "github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/pkg/errors"
)

type MemoryIndex struct {
	mu    sync.RWMutex
	terms map[string]map[string]*Occurrence
	docs  map[string]*DocInfo
	// docTerms lets a re-indexed document drop its old occurrences.
	docTerms map[string][]string
	size     int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		terms:    make(map[string]map[string]*Occurrence),
		docs:     make(map[string]*DocInfo),
		docTerms: make(map[string][]string),
	}
}

// AddDocument indexes doc under the hash of its url, replacing an earlier
// version of the same url.
func (m *MemoryIndex) AddDocument(doc Document) (string, error) {
	if strings.TrimSpace(doc.URL) == "" {
		return "", fmt.Errorf("%w: document without url", apperrors.ErrInvalidInput)
	}
	urlHash := posting.URLHash(doc.URL)
	tokens := tokenizer.Tokenize(doc.Title + " " + doc.Body)

	termData := make(map[string]*Occurrence)
	for _, token := range tokens {
		occ, exists := termData[token.Term]
		if !exists {
			occ = &Occurrence{
				URLHash:   urlHash,
				Positions: make([]int, 0, 4),
			}
			termData[token.Term] = occ
		}
		occ.Frequency++
		occ.Positions = append(occ.Positions, token.Position)
	}

	info := &DocInfo{
		URLHash:  urlHash,
		URL:      doc.URL,
		Title:    doc.Title,
		Host:     posting.Host(doc.URL),
		Words:    len(tokenizer.Words(doc.Title + " " + doc.Body)),
		Quality:  doc.Quality,
		Modified: doc.Modified,
		Language: doc.Language,
		DocType:  doc.DocType,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(urlHash)
	terms := make([]string, 0, len(termData))
	for term, occ := range termData {
		if _, exists := m.terms[term]; !exists {
			m.terms[term] = make(map[string]*Occurrence)
		}
		m.terms[term][urlHash] = occ
		m.size += int64(len(term) + len(urlHash) + len(occ.Positions)*8 + 64)
		terms = append(terms, term)
	}
	m.docs[urlHash] = info
	m.docTerms[urlHash] = terms
	return urlHash, nil
}

// Remove drops a document. It reports whether the document was indexed.
func (m *MemoryIndex) Remove(urlHash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(urlHash)
}

func (m *MemoryIndex) removeLocked(urlHash string) bool {
	if _, ok := m.docs[urlHash]; !ok {
		return false
	}
	for _, term := range m.docTerms[urlHash] {
		docs := m.terms[term]
		if occ, ok := docs[urlHash]; ok {
			m.size -= int64(len(term) + len(urlHash) + len(occ.Positions)*8 + 64)
			delete(docs, urlHash)
		}
		if len(docs) == 0 {
			delete(m.terms, term)
		}
	}
	delete(m.docTerms, urlHash)
	delete(m.docs, urlHash)
	return true
}

// Search returns the occurrences of one term ordered by url hash.
func (m *MemoryIndex) Search(term string) OccurrenceList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.terms[term]
	if !exists {
		return nil
	}
	result := make(OccurrenceList, 0, len(docs))
	for _, occ := range docs {
		result = append(result, *occ)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].URLHash < result[j].URLHash
	})
	return result
}

// Document returns the metadata of an indexed document.
func (m *MemoryIndex) Document(urlHash string) (DocInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.docs[urlHash]
	if !ok {
		return DocInfo{}, false
	}
	return *info, true
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.terms)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms = make(map[string]map[string]*Occurrence)
	m.docs = make(map[string]*DocInfo)
	m.docTerms = make(map[string][]string)
	m.size = 0
}
