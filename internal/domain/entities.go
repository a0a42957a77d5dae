package domain

import "time"

// Ingestion is one submitted URL and its processing lifecycle.
type Ingestion struct {
	ID           string
	URL          string
	Status       Status
	Title        string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is a token-bounded passage of an ingested page. VectorID is the
// position of its embedding in the vector index.
type Chunk struct {
	ID          string
	IngestionID string
	URL         string
	ChunkIndex  int
	TokenCount  int
	Text        string
	VectorID    int64
	CreatedAt   time.Time
}

// Passage is a chunker output before it is assigned an identity.
type Passage struct {
	Text       string
	TokenCount int
}

// Page is what the fetcher extracted from a URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Job is the queue message that drives one ingestion.
type Job struct {
	IngestionID string `json:"ingestion_id"`
	URL         string `json:"url"`
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// VectorHit is a single nearest-neighbour result from the vector index.
type VectorHit struct {
	ID    int64
	Score float64
}

type Citation struct {
	URL        string  `json:"url"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// Answer is the result of a query.
type Answer struct {
	Text      string     `json:"answer"`
	Citations []Citation `json:"citations"`
	UsedLLM   bool       `json:"used_llm"`
}

// IndexStats describes the durable vector index.
type IndexStats struct {
	Dimension int
	Total     int64
}

// DeadLetter is a job that was rejected without requeue.
type DeadLetter struct {
	Job        Job
	Reason     string
	RejectedAt time.Time
}

// MetadataStats holds row counts of the metadata store. MaxVector is -1
// when no chunk exists.
type MetadataStats struct {
	Ingestions map[Status]int
	Chunks     int
	MaxVector  int64
}
