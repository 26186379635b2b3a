// Package ingestion defines the document feed: the JSON a crawler posts to a
// node and the event it becomes on the documents topic.
package ingestion

import "time"

// FeedRequest is the JSON body accepted by POST /api/v1/documents.
type FeedRequest struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Quality  int       `json:"quality"`
	Modified time.Time `json:"modified"`
	Language string    `json:"language,omitempty"`
	DocType  string    `json:"doc_type,omitempty"`
}

// FeedResponse is returned once the event is on the topic.
type FeedResponse struct {
	URLHash string `json:"url_hash"`
	Status  string `json:"status"`
}

const (
	StatusQueued  = "QUEUED"
	StatusDeleted = "DELETE_QUEUED"
)
