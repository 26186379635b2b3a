// Package analytics publishes one event per finished merge session and keeps
// running statistics over them.
package analytics

import "time"

// KindMergeEvent labels merge events on the topic.
const KindMergeEvent = "merge-event"

type EventType string

const (
	EventMerge        EventType = "merge"
	EventZeroResult   EventType = "zero_result"
	EventPartialMerge EventType = "partial_merge"
)

// MergeEvent summarizes one merge session.
type MergeEvent struct {
	Type            EventType `json:"type"`
	SessionID       string    `json:"session_id"`
	Query           string    `json:"query"`
	Terms           []string  `json:"terms"`
	Profile         string    `json:"profile"`
	Returned        int       `json:"returned"`
	LocalCount      int       `json:"local_count"`
	GlobalCount     int       `json:"global_count"`
	LocalResource   int       `json:"local_resource"`
	RemoteResource  int       `json:"remote_resource"`
	RemotePeerCount int       `json:"remote_peer_count"`
	FailedSources   []string  `json:"failed_sources,omitempty"`
	RelatedTerms    []string  `json:"related_terms,omitempty"`
	LatencyMs       int64     `json:"latency_ms"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
}
