package models

// ContextChunk is one entry of an assembled retrieval context. Adjacent
// overlapping chunks of the same generation are merged into a single entry.
type ContextChunk struct {
	ChunkIDs    []string          `json:"chunk_ids"`
	SourceID    string            `json:"source_id"`
	Source      string            `json:"source"`
	Generation  string            `json:"generation"`
	Ordinal     int               `json:"ordinal"`
	LastOrdinal int               `json:"last_ordinal"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	Text        string            `json:"text"`
	Score       float64           `json:"score"`
	Fallback    bool              `json:"fallback"`
	Truncated   bool              `json:"truncated,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk is a raw vector-store hit as returned before assembly.
type ScoredChunk struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// RetrievalResponse is the ordered context bundle plus the raw hit scores.
// An empty Contexts slice means no hit cleared the threshold.
type RetrievalResponse struct {
	Query         string          `json:"query"`
	Contexts      []*ContextChunk `json:"contexts"`
	Scores        []ScoredChunk   `json:"scores"`
	QueryFallback bool            `json:"query_fallback"`
	QueryTime     int64           `json:"query_time_ms"`
}
