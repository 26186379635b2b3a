package index

import "time"

// Occurrence records where one term appears in one document.
type Occurrence struct {
	URLHash   string
	Frequency int
	Positions []int
}

type OccurrenceList []Occurrence

// Document is the input to AddDocument.
type Document struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Quality  int       `json:"quality"`
	Modified time.Time `json:"modified"`
	Language string    `json:"language,omitempty"`
	DocType  string    `json:"doc_type,omitempty"`
}

// DocInfo is what the index keeps about an indexed document.
type DocInfo struct {
	URLHash  string
	URL      string
	Title    string
	Host     string
	Words    int
	Quality  int
	Modified time.Time
	Language string
	DocType  string
}
