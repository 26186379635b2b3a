// Package proto defines the messages exchanged between peers over the
// JSON-over-TCP RPC layer (see pkg/rpc).
//
// The types are plain structs with JSON tags so both ends can evolve fields
// independently; unknown fields are ignored on decode.
package proto

// Method names served by every peer.
const (
	MethodPostings = "PeerService.Postings"
	MethodStats    = "PeerService.Stats"
	MethodHealth   = "PeerService.Health"
)

// Query modes.
const (
	ModeAND = "and"
	ModeOR  = "or"
)

// ---------- Postings ----------

// PostingsRequest asks a peer for the joined postings of a query.
type PostingsRequest struct {
	Query   string   `json:"query"`
	Terms   []string `json:"terms"`
	Exclude []string `json:"exclude,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Limit   int32    `json:"limit"`
	// Rank asks the peer to return its postings best first.
	Rank bool `json:"rank,omitempty"`
	// TimeoutMs is the caller's remaining budget for the call.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

// PostingsResponse carries one batch of postings plus the metadata of the
// documents they reference.
type PostingsResponse struct {
	Peer      string        `json:"peer"`
	Postings  []WirePosting `json:"postings"`
	Documents []Document    `json:"documents,omitempty"`
	// Presorted is set when Postings are in final rank order.
	Presorted bool `json:"presorted"`
	// TotalMatches counts matches at the peer before the limit was applied.
	TotalMatches int64 `json:"total_matches"`
	LatencyMs    int64 `json:"latency_ms"`
}

// WirePosting is the transfer form of one posting.
type WirePosting struct {
	URLHash        string `json:"h"`
	TermFrequency  int32  `json:"tf"`
	PositionInText int32  `json:"pos"`
	WordDistance   int32  `json:"dist"`
	HitCount       int32  `json:"hits"`
	Quality        int32  `json:"q"`
	VirtualAge     int32  `json:"age"`
	Language       string `json:"lang,omitempty"`
	DocType        string `json:"type,omitempty"`
	DocLength      int32  `json:"len"`
}

// Document is the display metadata of a result.
type Document struct {
	URLHash  string `json:"url_hash"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Language string `json:"lang,omitempty"`
}

// ---------- Stats & health ----------

// StatsRequest has no parameters.
type StatsRequest struct{}

// StatsResponse reports the size of a peer's local index.
type StatsResponse struct {
	Peer      string `json:"peer"`
	Documents int64  `json:"documents"`
	Terms     int64  `json:"terms"`
}

// Health states, named after the gRPC health check protocol.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
	StatusUnknown    = "UNKNOWN"
)

// HealthCheckResponse carries one of the Status* values.
type HealthCheckResponse struct {
	Status string `json:"status"`
}
